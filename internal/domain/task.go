// Package domain holds the escrow task types, errors and collaborator interfaces.
// A Task is one client/agent agreement that flows through:
// create → accept → deposit → assert → (settle | dispute → (concede | escalate → verdict)).
package domain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// TaskStatus tracks task lifecycle. Values only ever move forward along
// the edges in transitions.
type TaskStatus uint8

const (
	StatusNone TaskStatus = iota
	StatusCreated
	StatusAccepted
	StatusResultAsserted
	StatusDisputedAwaitingAgent
	StatusEscalatedToUMA
	StatusTimeoutCancelled
	StatusAgentFailed
	StatusResolved
)

var statusNames = [...]string{
	StatusNone:                  "None",
	StatusCreated:               "Created",
	StatusAccepted:              "Accepted",
	StatusResultAsserted:        "ResultAsserted",
	StatusDisputedAwaitingAgent: "DisputedAwaitingAgent",
	StatusEscalatedToUMA:        "EscalatedToUMA",
	StatusTimeoutCancelled:      "TimeoutCancelled",
	StatusAgentFailed:           "AgentFailed",
	StatusResolved:              "Resolved",
}

func (s TaskStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("TaskStatus(%d)", uint8(s))
}

// ParseTaskStatus is the inverse of String (case-insensitive).
func ParseTaskStatus(name string) (TaskStatus, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return TaskStatus(i), nil
		}
	}
	return StatusNone, fmt.Errorf("unknown task status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s TaskStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TaskStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal returns true if no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusTimeoutCancelled || s == StatusAgentFailed || s == StatusResolved
}

// transitions is the complete lifecycle graph. Anything not listed is illegal.
var transitions = map[TaskStatus][]TaskStatus{
	StatusNone:                  {StatusCreated},
	StatusCreated:               {StatusAccepted},
	StatusAccepted:              {StatusResultAsserted, StatusTimeoutCancelled, StatusAgentFailed},
	StatusResultAsserted:        {StatusResolved, StatusDisputedAwaitingAgent},
	StatusDisputedAwaitingAgent: {StatusResolved, StatusEscalatedToUMA},
	StatusEscalatedToUMA:        {StatusResolved},
}

// CanTransitionTo reports whether s → next is an edge of the lifecycle graph.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// ─── Outcomes ───────────────────────────────────────────────────────────────

// Outcome names the terminal settlement path a task took.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeAgentWinsNoContest
	OutcomeClientWinsConcede
	OutcomeAgentWinsOracle
	OutcomeClientWinsOracle
	OutcomeClientWinsTimeout
	OutcomeCooperativeFailure
)

var outcomeNames = [...]string{
	OutcomeNone:               "None",
	OutcomeAgentWinsNoContest: "AgentWinsNoContest",
	OutcomeClientWinsConcede:  "ClientWinsConcede",
	OutcomeAgentWinsOracle:    "AgentWinsOracle",
	OutcomeClientWinsOracle:   "ClientWinsOracle",
	OutcomeClientWinsTimeout:  "ClientWinsTimeout",
	OutcomeCooperativeFailure: "CooperativeFailure",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

// ParseOutcome is the inverse of String.
func ParseOutcome(name string) (Outcome, error) {
	for i, n := range outcomeNames {
		if strings.EqualFold(n, name) {
			return Outcome(i), nil
		}
	}
	return OutcomeNone, fmt.Errorf("unknown outcome %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// TerminalStatus is the status a task lands in when it settles with o.
func (o Outcome) TerminalStatus() TaskStatus {
	switch o {
	case OutcomeClientWinsTimeout:
		return StatusTimeoutCancelled
	case OutcomeCooperativeFailure:
		return StatusAgentFailed
	case OutcomeNone:
		return StatusNone
	default:
		return StatusResolved
	}
}

// ─── Task ───────────────────────────────────────────────────────────────────

// HexBytes is a byte slice that encodes as 0x-hex in JSON and text.
type HexBytes []byte

// MarshalText implements encoding.TextMarshaler.
func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(b)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *HexBytes) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// Task is one escrowed agreement between a client and an agent.
type Task struct {
	ID                  uint64     `json:"id"`
	Client              Address    `json:"client"`
	Agent               Address    `json:"agent"`
	DescriptionURI      string     `json:"description_uri"`
	PaymentToken        Address    `json:"payment_token"`
	PaymentAmount       *big.Int   `json:"payment_amount"`
	StakeToken          Address    `json:"stake_token"`
	AgentStake          *big.Int   `json:"agent_stake"`
	CreatedAt           time.Time  `json:"created_at"`
	Deadline            time.Time  `json:"deadline"`
	CooldownEndsAt      time.Time  `json:"cooldown_ends_at"`
	Status              TaskStatus `json:"status"`
	ResultHash          Hash       `json:"result_hash"`
	AgentSignature      HexBytes   `json:"agent_signature"`
	ClientDisputeBond   *big.Int   `json:"client_dispute_bond"`
	AgentEscalationBond *big.Int   `json:"agent_escalation_bond"`
	ClientEvidenceURI   string     `json:"client_evidence_uri"`
	AgentEvidenceURI    string     `json:"agent_evidence_uri"`
	ResultURI           string     `json:"result_uri"`
	AssertionID         string     `json:"assertion_id"`
	OracleTruth         bool       `json:"oracle_truth"`
	PaymentDeposited    bool       `json:"payment_deposited"`
	Outcome             Outcome    `json:"outcome"`
	ResolvedAt          time.Time  `json:"resolved_at"`
}

// EmptyTask is the zero-valued record returned when probing an unknown ID.
func EmptyTask(id uint64) Task {
	return Task{
		ID:                  id,
		Status:              StatusNone,
		PaymentAmount:       new(big.Int),
		AgentStake:          new(big.Int),
		ClientDisputeBond:   new(big.Int),
		AgentEscalationBond: new(big.Int),
	}
}

// Exists reports whether the task has been created.
func (t *Task) Exists() bool { return t.Status != StatusNone }

// IsTerminal returns true if the task has reached a final state.
func (t *Task) IsTerminal() bool { return t.Status.IsTerminal() }

// InvolvesParty reports whether addr is the task's client or agent.
func (t *Task) InvolvesParty(addr Address) bool {
	return t.Client == addr || (!t.Agent.IsZero() && t.Agent == addr)
}

// DisputeWindowOpen reports whether the client may still dispute at now.
func (t *Task) DisputeWindowOpen(now time.Time) bool {
	return now.Before(t.CooldownEndsAt)
}

// ResponseWindowEnd is the instant after which an unescalated dispute
// defaults to the client.
func (t *Task) ResponseWindowEnd(responseWindow time.Duration) time.Time {
	return t.CooldownEndsAt.Add(responseWindow)
}
