package models

import (
	"time"
)

// Account is a prepaid balance holder (a student record in the canteen).
// Balance is stored in integer minor units and may only be mutated by the
// purchase, reversal and batch adjustment services.
type Account struct {
	ID          string    `json:"id" db:"id"`
	ExternalRef string    `json:"external_ref" db:"external_ref"` // student number
	DisplayName string    `json:"display_name" db:"display_name"`
	Balance     int64     `json:"balance" db:"balance"`
	GroupTag    string    `json:"group_tag" db:"group_tag"` // class label
	Version     int       `json:"version" db:"version"`     // for optimistic locking
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
