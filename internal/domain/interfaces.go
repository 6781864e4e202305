package domain

import (
	"context"
	"math/big"
	"time"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// These interfaces define the boundary between the escrow core and the
// systems it relies on. Infrastructure implements them.

// Clock is the monotonic time source every time gate is checked against.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// EvidenceStore is the content-addressed storage collaborator. The core only
// stores and compares the URIs it returns; it never dereferences them.
type EvidenceStore interface {
	Store(ctx context.Context, content []byte) (uri string, err error)
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// AssertionRequest is what the gateway submits to the external arbitrator
// when a dispute is escalated.
type AssertionRequest struct {
	TaskID      uint64        `json:"task_id"`
	Asserter    Address       `json:"asserter"`
	Claim       string        `json:"claim"`
	PayloadHash Hash          `json:"payload_hash"`
	Bond        *big.Int      `json:"bond"`
	MinimumBond *big.Int      `json:"minimum_bond"`
	Liveness    time.Duration `json:"liveness"`
}

// Arbitrator is the external oracle. Assert registers a claim and returns
// an opaque handle; the verdict arrives later through the gateway callback.
type Arbitrator interface {
	Assert(ctx context.Context, req AssertionRequest) (assertionID string, err error)
}
