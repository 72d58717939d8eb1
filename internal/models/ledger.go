package models

import (
	"time"
)

// Ledger entry kinds. Every balance change produces exactly one entry.
const (
	EntryPurchase   = "PURCHASE"
	EntryDeposit    = "DEPOSIT"
	EntryWithdrawal = "WITHDRAWAL"
)

// LedgerEntry is one row of the append-only mutation log. PURCHASE entries
// always carry a transaction id; DEPOSIT and WITHDRAWAL entries never do.
// Amount is never negative; the kind decides the sign of the balance delta.
// A purchase of zero-priced items carries a zero amount.
type LedgerEntry struct {
	ID            string    `json:"id" db:"id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	Kind          string    `json:"kind" db:"kind"`
	Amount        int64     `json:"amount" db:"amount"` // in minor units
	BalanceBefore int64     `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64     `json:"balance_after" db:"balance_after"`
	Note          string    `json:"note" db:"note"`
	TransactionID *string   `json:"transaction_id,omitempty" db:"transaction_id"`
	OccurredAt    time.Time `json:"occurred_at" db:"occurred_at"`
}
