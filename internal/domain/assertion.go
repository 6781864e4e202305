package domain

import (
	"math/big"
	"time"
)

// Assertion binds an external oracle handle to exactly one task.
type Assertion struct {
	ID          string    `json:"assertion_id"`
	TaskID      uint64    `json:"task_id"`
	Claim       string    `json:"claim"`
	PayloadHash Hash      `json:"payload_hash"`
	Bond        *big.Int  `json:"bond"`
	CreatedAt   time.Time `json:"created_at"`
	Resolved    bool      `json:"resolved"`
	Truth       bool      `json:"truth"`
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`
}
