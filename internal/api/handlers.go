package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/escrow/internal/app/bond"
	"github.com/tutu-network/escrow/internal/app/escrow"
	"github.com/tutu-network/escrow/internal/domain"
)

// ─── Request Types ──────────────────────────────────────────────────────────

type createTaskRequest struct {
	DescriptionURI string         `json:"description_uri"`
	PaymentToken   domain.Address `json:"payment_token"`
	PaymentAmount  string         `json:"payment_amount"`
	Deadline       time.Time      `json:"deadline"`
	StakeToken     domain.Address `json:"stake_token"`
}

type acceptRequest struct {
	StakeAmount string `json:"stake_amount"`
}

type assertRequest struct {
	ResultHash domain.Hash     `json:"result_hash"`
	Signature  domain.HexBytes `json:"signature"`
	ResultURI  string          `json:"result_uri"`
}

type evidenceRequest struct {
	EvidenceURI string `json:"evidence_uri"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type verdictRequest struct {
	AssertionID string `json:"assertion_id"`
	Truth       bool   `json:"truth"`
}

type walletRequest struct {
	Owners    []domain.Address `json:"owners"`
	Threshold int              `json:"threshold"`
	Salt      uint64           `json:"salt"`
}

type tokenRequest struct {
	Token  domain.Address `json:"token"`
	To     domain.Address `json:"to"`
	Amount string         `json:"amount"`
}

// configRequest carries the value for one /v1/config/{param} setter.
// Durations use Go syntax ("1h30m").
type configRequest struct {
	Duration  string         `json:"duration,omitempty"`
	Bps       uint32         `json:"bps,omitempty"`
	Recipient domain.Address `json:"recipient,omitempty"`
	Address   domain.Address `json:"address,omitempty"`
	Liveness  string         `json:"liveness,omitempty"`
	MinBond   string         `json:"min_bond,omitempty"`
	Token     domain.Address `json:"token,omitempty"`
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "read body: "+err.Error())
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func taskID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "invalid task id")
		return 0, false
	}
	return id, true
}

func addrParam(w http.ResponseWriter, r *http.Request, name string) (domain.Address, bool) {
	addr, err := domain.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidAddress, err))
		return domain.ZeroAddress, false
	}
	return addr, true
}

// parseAmount reads a base-10 token amount. Empty means zero.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a decimal integer", domain.ErrInvalidConfig, s)
	}
	if n.Sign() < 0 {
		return nil, domain.ErrNegativeAmount
	}
	return n, nil
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 100
	}
	return limit
}

// respond writes a task mutation result.
func respond(w http.ResponseWriter, task domain.Task, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ─── Discovery ──────────────────────────────────────────────────────────────

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.Registry.Config(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, err := s.Registry.Config(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bond.New(cfg).Quote(amount))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := limitParam(r)

	var (
		tasks []domain.Task
		err   error
	)
	switch {
	case q.Get("party") != "":
		party, perr := domain.ParseAddress(q.Get("party"))
		if perr != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidAddress, perr))
			return
		}
		tasks, err = s.Engine.TasksByParty(r.Context(), party, limit)
	case q.Get("status") != "":
		status, perr := domain.ParseTaskStatus(q.Get("status"))
		if perr != nil {
			badRequest(w, perr.Error())
			return
		}
		tasks, err = s.Engine.TasksByStatus(r.Context(), status, limit)
	default:
		badRequest(w, "party or status query parameter required")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleNextTaskID(w http.ResponseWriter, r *http.Request) {
	id, err := s.Engine.NextTaskID(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"next_task_id": id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.Engine.GetTask(r.Context(), id)
	if err == nil && !task.Exists() {
		err = fmt.Errorf("%w: %d", domain.ErrTaskNotFound, id)
	}
	respond(w, task, err)
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	events, err := s.Engine.TaskEvents(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleTaskFlows(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	flows, err := s.Vault.Flows(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": flows, "balanced": flows.Balanced()})
}

// account resolves {addr}, accepting the reserved ledger account names.
func account(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "addr")
	if raw == domain.AccountEscrow || raw == domain.AccountSystemPool {
		return raw, true
	}
	addr, ok := addrParam(w, r, "addr")
	return addr.String(), ok
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	acct, ok := account(w, r)
	if !ok {
		return
	}
	balances, err := s.Vault.Balances(r.Context(), acct)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acct, "balances": balances})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	acct, ok := account(w, r)
	if !ok {
		return
	}
	entries, err := s.Vault.History(r.Context(), acct, limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acct, "entries": entries})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	addr, ok := addrParam(w, r, "addr")
	if !ok {
		return
	}
	wallet, err := s.Engine.Wallet(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	if wallet == nil {
		writeJSON(w, http.StatusNotFound, map[string]errorBody{
			"error": {Message: "no wallet at " + addr.String(), Kind: domain.KindValidation.String()},
		})
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// handleRegisterWallet is open: the wallet address derives from its owners,
// threshold and salt, so nobody can register a wallet on someone's behalf.
func (s *Server) handleRegisterWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !decode(w, r, &req) {
		return
	}
	wallet, err := s.Engine.RegisterWallet(r.Context(), req.Owners, req.Threshold, req.Salt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (s *Server) handleFetchEvidence(w http.ResponseWriter, r *http.Request) {
	if s.Evidence == nil {
		writeError(w, fmt.Errorf("%w: no evidence store configured", domain.ErrEvidenceStore))
		return
	}
	content, err := s.Evidence.Fetch(r.Context(), chi.URLParam(r, "uri"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

func (s *Server) handleStoreEvidence(w http.ResponseWriter, r *http.Request) {
	if s.Evidence == nil {
		writeError(w, fmt.Errorf("%w: no evidence store configured", domain.ErrEvidenceStore))
		return
	}
	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, domain.ErrInvalidEvidence)
			return
		}
		badRequest(w, "read body: "+err.Error())
		return
	}
	uri, err := s.Evidence.Store(r.Context(), content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"uri": uri})
}

func (s *Server) handleListAssertions(w http.ResponseWriter, r *http.Request) {
	pending, err := s.Gateway.Pending(r.Context(), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if pending == nil {
		pending = []domain.Assertion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assertions": pending})
}

func (s *Server) handleGetAssertion(w http.ResponseWriter, r *http.Request) {
	a, err := s.Gateway.Assertion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if a == nil {
		writeJSON(w, http.StatusNotFound, map[string]errorBody{
			"error": {Message: domain.ErrUnknownAssertion.Error(), Kind: domain.KindValidation.String()},
		})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ─── Task Lifecycle ─────────────────────────────────────────────────────────

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.PaymentAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.Engine.CreateTask(r.Context(), callerFrom(r), escrow.CreateParams{
		DescriptionURI: req.DescriptionURI,
		PaymentToken:   req.PaymentToken,
		PaymentAmount:  amount,
		Deadline:       req.Deadline,
		StakeToken:     req.StakeToken,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req acceptRequest
	if !decode(w, r, &req) {
		return
	}
	stake, err := parseAmount(req.StakeAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.Engine.AcceptTask(r.Context(), callerFrom(r), id, stake)
	respond(w, task, err)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.Engine.DepositPayment(r.Context(), callerFrom(r), id)
	respond(w, task, err)
}

func (s *Server) handleAssert(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req assertRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.Engine.AssertCompletion(r.Context(), callerFrom(r), id, req.ResultHash, req.Signature, req.ResultURI)
	respond(w, task, err)
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req evidenceRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.Engine.DisputeTask(r.Context(), callerFrom(r), id, req.EvidenceURI)
	respond(w, task, err)
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req evidenceRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.Engine.EscalateToUMA(r.Context(), callerFrom(r), id, req.EvidenceURI)
	respond(w, task, err)
}

func (s *Server) handleSettleNoContest(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.Engine.SettleNoContest(r.Context(), callerFrom(r), id)
	respond(w, task, err)
}

func (s *Server) handleSettleConceded(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.Engine.SettleAgentConceded(r.Context(), callerFrom(r), id)
	respond(w, task, err)
}

func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.Engine.TimeoutCancellation(r.Context(), callerFrom(r), id, req.Reason)
	respond(w, task, err)
}

func (s *Server) handleCannotComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.Engine.CannotComplete(r.Context(), callerFrom(r), id, req.Reason)
	respond(w, task, err)
}

func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	var req verdictRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.Gateway.OnVerdict(r.Context(), callerFrom(r), req.AssertionID, req.Truth)
	respond(w, task, err)
}

// ─── Administration ─────────────────────────────────────────────────────────

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decode(w, r, &req) {
		return
	}
	caller := callerFrom(r)
	ctx := r.Context()

	var err error
	switch param := chi.URLParam(r, "param"); param {
	case "cooldown_period", "agent_response_window":
		d, perr := time.ParseDuration(req.Duration)
		if perr != nil {
			writeError(w, fmt.Errorf("%w: duration: %v", domain.ErrInvalidConfig, perr))
			return
		}
		if param == "cooldown_period" {
			err = s.Registry.SetCooldownPeriod(ctx, caller, d)
		} else {
			err = s.Registry.SetAgentResponseWindow(ctx, caller, d)
		}
	case "dispute_bond_bps":
		err = s.Registry.SetDisputeBondBps(ctx, caller, req.Bps)
	case "escalation_bond_bps":
		err = s.Registry.SetEscalationBondBps(ctx, caller, req.Bps)
	case "market_maker_fee":
		err = s.Registry.SetMarketMakerFee(ctx, caller, req.Bps, req.Recipient)
	case "oracle":
		liveness, perr := time.ParseDuration(req.Liveness)
		if perr != nil {
			writeError(w, fmt.Errorf("%w: liveness: %v", domain.ErrInvalidConfig, perr))
			return
		}
		minBond, perr := parseAmount(req.MinBond)
		if perr != nil {
			writeError(w, perr)
			return
		}
		err = s.Registry.SetOracle(ctx, caller, req.Address, liveness, minBond)
	case "tokens_add":
		err = s.Registry.AddToken(ctx, caller, req.Token)
	case "tokens_remove":
		err = s.Registry.RemoveToken(ctx, caller, req.Token)
	case "owner":
		err = s.Registry.TransferOwnership(ctx, caller, req.Address)
	default:
		writeJSON(w, http.StatusNotFound, map[string]errorBody{
			"error": {Message: "unknown config parameter " + param, Kind: domain.KindValidation.String()},
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.handleGetConfig(w, r)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Vault.Mint(r.Context(), callerFrom(r), req.Token, req.To, amount); err != nil {
		writeError(w, err)
		return
	}
	s.writeBalance(w, r, req.Token, req.To)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Vault.Send(r.Context(), callerFrom(r), req.Token, req.To, amount); err != nil {
		writeError(w, err)
		return
	}
	s.writeBalance(w, r, req.Token, req.To)
}

func (s *Server) writeBalance(w http.ResponseWriter, r *http.Request, token, account domain.Address) {
	bal, err := s.Vault.Balance(r.Context(), token, account.String())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "account": account, "balance": bal})
}
