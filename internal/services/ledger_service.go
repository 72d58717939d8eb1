package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kantinpay/backend/internal/models"
)

// maxAttempts bounds the retries of a whole atomic unit on lock or version
// conflicts before ErrConcurrencyConflict is surfaced.
const maxAttempts = 3

// LedgerService owns the append-only mutation log and the shared row-lock
// discipline every money-moving service runs on: lock rows with
// SELECT ... FOR UPDATE in a deterministic order (account before items, items
// sorted by id), then guard every UPDATE with the version column.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// runAtomic executes fn inside one database transaction and retries the whole
// unit a bounded number of times when the conflict is retryable. The unit
// either commits completely or leaves no effects.
func (s *LedgerService) runAtomic(op string, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tx, err := s.db.Begin()
		if err != nil {
			return &StorageError{Op: op, Err: err}
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if isRetryable(err) && attempt < maxAttempts {
				log.Printf("[%s] attempt %d/%d hit a conflict, retrying: %v", strings.ToUpper(op), attempt, maxAttempts, err)
				lastErr = err
				continue
			}
			if isRetryable(err) {
				return ErrConcurrencyConflict
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isRetryable(err) {
				if attempt < maxAttempts {
					lastErr = err
					continue
				}
				return ErrConcurrencyConflict
			}
			return &StorageError{Op: op, Err: err}
		}
		return nil
	}
	if lastErr != nil && isRetryable(lastErr) {
		return ErrConcurrencyConflict
	}
	return lastErr
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, external_ref, display_name, balance, group_tag, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(
		&account.ID, &account.ExternalRef, &account.DisplayName,
		&account.Balance, &account.GroupTag, &account.Version)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "account", Ref: accountID}
	}
	if err != nil {
		return nil, &StorageError{Op: "lock account", Err: err}
	}
	return &account, nil
}

func (s *LedgerService) lockAccountByRef(tx *sql.Tx, externalRef string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, external_ref, display_name, balance, group_tag, version
		FROM accounts
		WHERE external_ref = $1
		FOR UPDATE`, externalRef).Scan(
		&account.ID, &account.ExternalRef, &account.DisplayName,
		&account.Balance, &account.GroupTag, &account.Version)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "account", Ref: externalRef}
	}
	if err != nil {
		return nil, &StorageError{Op: "lock account", Err: err}
	}
	return &account, nil
}

func (s *LedgerService) lockItem(tx *sql.Tx, itemID string) (*models.Item, error) {
	var item models.Item
	err := tx.QueryRow(`
		SELECT id, name, price, stock, version
		FROM items
		WHERE id = $1
		FOR UPDATE`, itemID).Scan(
		&item.ID, &item.Name, &item.Price, &item.Stock, &item.Version)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "item", Ref: itemID}
	}
	if err != nil {
		return nil, &StorageError{Op: "lock item", Err: err}
	}
	return &item, nil
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, accountID string, newBalance int64, version int) error {
	if newBalance < 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrInsufficientFunds)
	}

	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)

	if err != nil {
		return &StorageError{Op: "update account balance", Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return &StorageError{Op: "update account balance", Err: err}
	}

	if rowsAffected == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrConcurrencyConflict)
	}

	return nil
}

func (s *LedgerService) updateItemStock(tx *sql.Tx, itemID string, newStock int, version int) error {
	result, err := tx.Exec(`
		UPDATE items
		SET stock = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newStock, time.Now(), itemID, version)

	if err != nil {
		return &StorageError{Op: "update item stock", Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return &StorageError{Op: "update item stock", Err: err}
	}

	if rowsAffected == 0 {
		return fmt.Errorf("item %s: %w", itemID, ErrConcurrencyConflict)
	}

	return nil
}

// insertEntry appends one row to the mutation log. The running balances must
// already be consistent with the kind; callers compute them under the row
// locks they hold.
func (s *LedgerService) insertEntry(tx *sql.Tx, entry *models.LedgerEntry) error {
	switch entry.Kind {
	case models.EntryDeposit:
		if entry.BalanceAfter != entry.BalanceBefore+entry.Amount {
			return fmt.Errorf("ledger entry balances inconsistent for kind %s", entry.Kind)
		}
	case models.EntryPurchase, models.EntryWithdrawal:
		if entry.BalanceAfter != entry.BalanceBefore-entry.Amount {
			return fmt.Errorf("ledger entry balances inconsistent for kind %s", entry.Kind)
		}
	default:
		return fmt.Errorf("unknown ledger entry kind %q", entry.Kind)
	}

	_, err := tx.Exec(`
		INSERT INTO ledger_entries (id, account_id, kind, amount, balance_before, balance_after, note, transaction_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.AccountID, entry.Kind, entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter, entry.Note,
		entry.TransactionID, entry.OccurredAt)

	if err != nil {
		return &StorageError{Op: "insert ledger entry", Err: err}
	}
	return nil
}

// HistoryFilter narrows the mutation history queries.
type HistoryFilter struct {
	AccountID string
	Kinds     []string
	From      time.Time
	To        time.Time
	Limit     int
}

// History returns ledger entries newest-first, optionally filtered by
// account, kinds and date range.
func (s *LedgerService) History(filter HistoryFilter) ([]models.LedgerEntry, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	baseQuery := `
		SELECT id, account_id, kind, amount, balance_before, balance_after, note, transaction_id, occurred_at
		FROM ledger_entries
	`

	if filter.AccountID != "" {
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", argIndex))
		args = append(args, filter.AccountID)
		argIndex++
	}

	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, kind)
			argIndex++
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}

	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", argIndex))
		args = append(args, filter.From)
		argIndex++
	}

	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("occurred_at <= $%d", argIndex))
		args = append(args, filter.To)
		argIndex++
	}

	query := baseQuery
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY occurred_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &StorageError{Op: "query ledger history", Err: err}
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var entry models.LedgerEntry
		err := rows.Scan(
			&entry.ID, &entry.AccountID, &entry.Kind, &entry.Amount,
			&entry.BalanceBefore, &entry.BalanceAfter, &entry.Note,
			&entry.TransactionID, &entry.OccurredAt)
		if err != nil {
			return nil, &StorageError{Op: "scan ledger history", Err: err}
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// GetHistory lists ledger entries with optional filters
// @Summary Ledger history
// @Description List ledger entries newest-first, filtered by account, kind and date range
// @Tags ledger
// @Produce json
// @Param account query string false "Account ID"
// @Param kind query string false "Comma-separated entry kinds (PURCHASE, DEPOSIT, WITHDRAWAL)"
// @Param from query string false "RFC 3339 lower bound"
// @Param to query string false "RFC 3339 upper bound"
// @Param limit query int false "Max entries (default 100)"
// @Success 200 {object} object{entries=[]models.LedgerEntry,count=int}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /ledger [get]
func (s *LedgerService) GetHistory(w http.ResponseWriter, r *http.Request) {
	filter := HistoryFilter{
		AccountID: strings.TrimSpace(r.URL.Query().Get("account")),
	}

	if kinds := r.URL.Query().Get("kind"); kinds != "" {
		for _, kind := range strings.Split(kinds, ",") {
			kind = strings.ToUpper(strings.TrimSpace(kind))
			switch kind {
			case models.EntryPurchase, models.EntryDeposit, models.EntryWithdrawal:
				filter.Kinds = append(filter.Kinds, kind)
			default:
				SendErrorResponse(w, fmt.Sprintf("unknown ledger entry kind %q", kind), http.StatusBadRequest, nil)
				return
			}
		}
	}

	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			SendErrorResponse(w, "invalid 'from' timestamp", http.StatusBadRequest, nil)
			return
		}
		filter.From = t
	}

	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			SendErrorResponse(w, "invalid 'to' timestamp", http.StatusBadRequest, nil)
			return
		}
		filter.To = t
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = l
		}
	}

	entries, err := s.History(filter)
	if err != nil {
		log.Printf("[LEDGER] Failed to fetch history: %v", err)
		SendErrorResponse(w, "Failed to fetch ledger history", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// entryByTransaction fetches the PURCHASE entry linked to a transaction,
// under the row lock so a concurrent reversal cannot race it.
func (s *LedgerService) entryByTransaction(tx *sql.Tx, transactionID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := tx.QueryRow(`
		SELECT id, account_id, kind, amount, balance_before, balance_after, note, transaction_id, occurred_at
		FROM ledger_entries
		WHERE transaction_id = $1
		FOR UPDATE`, transactionID).Scan(
		&entry.ID, &entry.AccountID, &entry.Kind, &entry.Amount,
		&entry.BalanceBefore, &entry.BalanceAfter, &entry.Note,
		&entry.TransactionID, &entry.OccurredAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "ledger entry", Ref: transactionID}
	}
	if err != nil {
		return nil, &StorageError{Op: "lock ledger entry", Err: err}
	}
	return &entry, nil
}

// lockEntry fetches a ledger entry by id under a row lock.
func (s *LedgerService) lockEntry(tx *sql.Tx, entryID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := tx.QueryRow(`
		SELECT id, account_id, kind, amount, balance_before, balance_after, note, transaction_id, occurred_at
		FROM ledger_entries
		WHERE id = $1
		FOR UPDATE`, entryID).Scan(
		&entry.ID, &entry.AccountID, &entry.Kind, &entry.Amount,
		&entry.BalanceBefore, &entry.BalanceAfter, &entry.Note,
		&entry.TransactionID, &entry.OccurredAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "ledger entry", Ref: entryID}
	}
	if err != nil {
		return nil, &StorageError{Op: "lock ledger entry", Err: err}
	}
	return &entry, nil
}
