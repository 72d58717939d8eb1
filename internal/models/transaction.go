package models

import (
	"time"
)

// Transaction records a completed purchase. Created only by the purchase
// service and deleted only by the reversal service.
type Transaction struct {
	ID        string            `json:"id" db:"id"`
	AccountID string            `json:"account_id" db:"account_id"`
	Total     int64             `json:"total" db:"total"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	Items     []TransactionItem `json:"items,omitempty"`
}

// TransactionItem is one line of a purchase with the price captured at the
// time of sale, so later price changes never affect history.
type TransactionItem struct {
	ID            int64  `json:"id" db:"id"`
	TransactionID string `json:"transaction_id" db:"transaction_id"`
	ItemID        string `json:"item_id" db:"item_id"`
	Quantity      int    `json:"quantity" db:"quantity"`
	UnitPrice     int64  `json:"unit_price" db:"unit_price"`
	LineNo        int    `json:"line_no" db:"line_no"`
}
