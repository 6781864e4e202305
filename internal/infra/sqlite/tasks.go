package sqlite

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/tutu-network/escrow/internal/domain"
)

// ─── Task Repository ────────────────────────────────────────────────────────

const taskColumns = `id, client, agent, description_uri, payment_token, payment_amount,
	stake_token, agent_stake, created_at, deadline, cooldown_ends_at, status,
	result_hash, agent_signature, client_dispute_bond, agent_escalation_bond,
	client_evidence_uri, agent_evidence_uri, result_uri, assertion_id,
	oracle_truth, payment_deposited, outcome, resolved_at`

// NextTaskID returns the id the next created task will receive.
func (t *Tx) NextTaskID() (uint64, error) {
	var next int64
	err := t.tx.QueryRow(`SELECT COALESCE(MAX(id) + 1, 0) FROM tasks`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next task id: %w", err)
	}
	return uint64(next), nil
}

// InsertTask creates a new task record.
func (t *Tx) InsertTask(task domain.Task) error {
	_, err := t.tx.Exec(
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskArgs(task)...,
	)
	if err != nil {
		return fmt.Errorf("insert task %d: %w", task.ID, err)
	}
	return nil
}

// SaveTask overwrites a task record with its current in-memory state.
func (t *Tx) SaveTask(task domain.Task) error {
	args := taskArgs(task)
	res, err := t.tx.Exec(
		`UPDATE tasks SET
			client = ?, agent = ?, description_uri = ?, payment_token = ?, payment_amount = ?,
			stake_token = ?, agent_stake = ?, created_at = ?, deadline = ?, cooldown_ends_at = ?,
			status = ?, result_hash = ?, agent_signature = ?, client_dispute_bond = ?,
			agent_escalation_bond = ?, client_evidence_uri = ?, agent_evidence_uri = ?,
			result_uri = ?, assertion_id = ?, oracle_truth = ?, payment_deposited = ?,
			outcome = ?, resolved_at = ?
		 WHERE id = ?`,
		append(args[1:], args[0])...,
	)
	if err != nil {
		return fmt.Errorf("save task %d: %w", task.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// GetTask retrieves a task by ID. Returns (nil, nil) if it does not exist.
func (t *Tx) GetTask(id uint64) (*domain.Task, error) {
	row := t.tx.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, int64(id))
	return scanTask(row)
}

// ListTasksByParty returns tasks the address created or accepted, newest first.
func (t *Tx) ListTasksByParty(addr domain.Address, limit int) ([]domain.Task, error) {
	return t.queryTasks(
		`SELECT `+taskColumns+` FROM tasks WHERE client = ? OR agent = ? ORDER BY id DESC LIMIT ?`,
		addr.String(), addr.String(), sqlLimit(limit),
	)
}

// ListTasksByStatus returns tasks in a status, oldest first.
func (t *Tx) ListTasksByStatus(status domain.TaskStatus, limit int) ([]domain.Task, error) {
	return t.queryTasks(
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY id ASC LIMIT ?`,
		status.String(), sqlLimit(limit),
	)
}

// ListTasksCooledBy returns tasks in a status whose cooldown ended at or
// before cutoff, earliest cooldown first.
func (t *Tx) ListTasksCooledBy(status domain.TaskStatus, cutoff time.Time, limit int) ([]domain.Task, error) {
	return t.queryTasks(
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = ? AND cooldown_ends_at IS NOT NULL AND cooldown_ends_at <= ?
		 ORDER BY cooldown_ends_at ASC, id ASC LIMIT ?`,
		status.String(), cutoff.Unix(), sqlLimit(limit),
	)
}

// CountTasksByStatus returns how many tasks sit in each status.
func (t *Tx) CountTasksByStatus() (map[domain.TaskStatus]int, error) {
	rows, err := t.tx.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		s, err := domain.ParseTaskStatus(name)
		if err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (t *Tx) queryTasks(query string, args ...any) ([]domain.Task, error) {
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func taskArgs(task domain.Task) []any {
	agent := ""
	if !task.Agent.IsZero() {
		agent = task.Agent.String()
	}
	resultHash := ""
	if !task.ResultHash.IsZero() {
		resultHash = task.ResultHash.String()
	}
	return []any{
		int64(task.ID), task.Client.String(), agent, task.DescriptionURI,
		task.PaymentToken.String(), formatAmount(task.PaymentAmount),
		task.StakeToken.String(), formatAmount(task.AgentStake),
		task.CreatedAt.Unix(), task.Deadline.Unix(), nullableUnix(task.CooldownEndsAt),
		task.Status.String(), resultHash, hex.EncodeToString(task.AgentSignature),
		formatAmount(task.ClientDisputeBond), formatAmount(task.AgentEscalationBond),
		task.ClientEvidenceURI, task.AgentEvidenceURI, task.ResultURI, task.AssertionID,
		task.OracleTruth, task.PaymentDeposited, task.Outcome.String(), nullableUnix(task.ResolvedAt),
	}
}

func scanTask(s scanner) (*domain.Task, error) {
	var (
		task                                   domain.Task
		id, createdAt, deadline                int64
		cooldown, resolvedAt                   sql.NullInt64
		client, agent, payToken, stakeToken    string
		payAmount, stake, disputeBond, escBond string
		status, resultHash, sigHex, outcome    string
	)

	err := s.Scan(&id, &client, &agent, &task.DescriptionURI, &payToken, &payAmount,
		&stakeToken, &stake, &createdAt, &deadline, &cooldown, &status,
		&resultHash, &sigHex, &disputeBond, &escBond,
		&task.ClientEvidenceURI, &task.AgentEvidenceURI, &task.ResultURI, &task.AssertionID,
		&task.OracleTruth, &task.PaymentDeposited, &outcome, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.ID = uint64(id)
	task.CreatedAt = fromNullableUnix(sql.NullInt64{Int64: createdAt, Valid: true})
	task.Deadline = fromNullableUnix(sql.NullInt64{Int64: deadline, Valid: true})
	task.CooldownEndsAt = fromNullableUnix(cooldown)
	task.ResolvedAt = fromNullableUnix(resolvedAt)

	if task.Client, err = domain.ParseAddress(client); err != nil {
		return nil, fmt.Errorf("scan task %d client: %w", id, err)
	}
	if agent != "" {
		if task.Agent, err = domain.ParseAddress(agent); err != nil {
			return nil, fmt.Errorf("scan task %d agent: %w", id, err)
		}
	}
	if task.PaymentToken, err = domain.ParseAddress(payToken); err != nil {
		return nil, fmt.Errorf("scan task %d payment token: %w", id, err)
	}
	if task.StakeToken, err = domain.ParseAddress(stakeToken); err != nil {
		return nil, fmt.Errorf("scan task %d stake token: %w", id, err)
	}
	if resultHash != "" {
		if task.ResultHash, err = domain.ParseHash(resultHash); err != nil {
			return nil, fmt.Errorf("scan task %d result hash: %w", id, err)
		}
	}
	if sigHex != "" {
		if task.AgentSignature, err = hex.DecodeString(strings.TrimPrefix(sigHex, "0x")); err != nil {
			return nil, fmt.Errorf("scan task %d signature: %w", id, err)
		}
	}
	if task.Status, err = domain.ParseTaskStatus(status); err != nil {
		return nil, err
	}
	if task.Outcome, err = domain.ParseOutcome(outcome); err != nil {
		return nil, err
	}

	amounts := []struct {
		dst **big.Int
		src string
	}{
		{&task.PaymentAmount, payAmount},
		{&task.AgentStake, stake},
		{&task.ClientDisputeBond, disputeBond},
		{&task.AgentEscalationBond, escBond},
	}
	for _, a := range amounts {
		v, err := parseAmount(a.src)
		if err != nil {
			return nil, fmt.Errorf("scan task %d: %w", id, err)
		}
		*a.dst = v
	}
	return &task, nil
}
