package oracle

import (
	"context"
	"sync"

	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/security"
)

// Local is an in-process arbitrator. It only hands out handles; a human
// operator holding the oracle key reads the pending list and posts the
// verdict through the normal callback.
type Local struct {
	mu       sync.Mutex
	nonce    uint64
	requests map[string]domain.AssertionRequest
}

// NewLocal creates an empty local arbitrator.
func NewLocal() *Local {
	return &Local{requests: make(map[string]domain.AssertionRequest)}
}

// Assert implements domain.Arbitrator.
func (l *Local) Assert(_ context.Context, req domain.AssertionRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nonce++
	id := security.Keccak256(
		[]byte("local-assertion"), security.Uint256(req.TaskID), req.PayloadHash[:], security.Uint256(l.nonce),
	).String()
	l.requests[id] = req
	return id, nil
}

// Request returns the request behind a handle this arbitrator issued.
func (l *Local) Request(id string) (domain.AssertionRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.requests[id]
	return req, ok
}
