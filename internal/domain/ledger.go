package domain

import (
	"math/big"
	"time"
)

// EntryType is the side of a double-entry posting.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// TxType categorizes why value moved.
type TxType string

const (
	TxMint     TxType = "MINT"
	TxDeposit  TxType = "DEPOSIT"
	TxPayout   TxType = "PAYOUT"
	TxTransfer TxType = "TRANSFER"
)

// Well-known ledger accounts that are not party addresses.
const (
	AccountEscrow     = "escrow"
	AccountSystemPool = "system_pool"
)

// LedgerEntry is one side of a token movement. Every transfer writes a
// matched DEBIT/CREDIT pair sharing TransferID.
type LedgerEntry struct {
	ID          int64     `json:"id"`
	TransferID  string    `json:"transfer_id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        TxType    `json:"type"`
	EntryType   EntryType `json:"entry_type"`
	Token       Address   `json:"token"`
	Account     string    `json:"account"`
	Amount      *big.Int  `json:"amount"`
	TaskID      *uint64   `json:"task_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Balance     *big.Int  `json:"balance"`
}
