package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
)

// Sentinel errors, used with errors.Is. Structured variants below carry the
// detail a caller needs to render feedback without parsing messages.
var (
	// ErrNotFound is returned when an account, item, transaction or ledger
	// entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned when a debit would push an account
	// balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientStock is returned when a purchase line requests more
	// units than the item has in stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrAlreadyReversed is returned when a reversal references a
	// transaction or ledger entry that was already reversed. The inverse
	// mutation is never applied twice.
	ErrAlreadyReversed = errors.New("already reversed")

	// ErrConcurrencyConflict is returned once bounded retries on lock or
	// version conflicts are exhausted.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError names the missing resource and the reference used.
type NotFoundError struct {
	Resource string
	Ref      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Ref)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// InsufficientFundsError carries the balance shortfall detail.
type InsufficientFundsError struct {
	AccountID string
	Balance   int64
	Required  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// InsufficientStockError names the item whose stock fell short.
type InsufficientStockError struct {
	ItemID    string
	ItemName  string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.ItemName, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// StorageError wraps an underlying persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// isRetryable reports whether re-running the whole atomic unit might succeed.
// Covers our own version-guard conflicts plus Postgres serialization and
// deadlock aborts.
func isRetryable(err error) bool {
	if errors.Is(err, ErrConcurrencyConflict) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// errorStatus maps an error to the HTTP status the handlers respond with.
func errorStatus(err error) int {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrAlreadyReversed), errors.Is(err, ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
