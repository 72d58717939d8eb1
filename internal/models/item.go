package models

import (
	"time"
)

// Item is a sellable product. Stock is only mutated by the purchase and
// reversal services.
type Item struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Price     int64     `json:"price" db:"price"` // in minor units
	Stock     int       `json:"stock" db:"stock"`
	Barcode   *string   `json:"barcode,omitempty" db:"barcode"`
	ImageRef  *string   `json:"image_ref,omitempty" db:"image_ref"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
