package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/kantinpay/backend/internal/audit"
	"github.com/kantinpay/backend/internal/cache"
	"github.com/kantinpay/backend/internal/middleware"
	"github.com/kantinpay/backend/internal/models"
)

// ReversalService compensates prior mutations. A purchase reversal restores
// balance and stock, deletes the transaction with its line items and ledger
// entry, and snapshots everything into the audit log; a simple-entry reversal
// applies the inverse balance delta and deletes the entry. Each reversal is
// one atomic unit, and reversing the same reference twice fails on the second
// call without applying the inverse mutation again.
type ReversalService struct {
	ledger      *LedgerService
	audit       *audit.Logger
	invalidator *cache.Invalidator
	validator   *ValidationHelper
}

func NewReversalService(ledger *LedgerService, invalidator *cache.Invalidator) *ReversalService {
	return &ReversalService{
		ledger:      ledger,
		audit:       audit.NewLogger(),
		invalidator: invalidator,
		validator:   NewValidationHelper(),
	}
}

// ReversalRequest references either a transaction (purchase) or a plain
// ledger entry (deposit/withdrawal) by id.
type ReversalRequest struct {
	Ref    string `json:"ref" validate:"required,uuid4"`
	Reason string `json:"reason" validate:"required,min=3,max=500"`
	Actor  string `json:"actor" validate:"required,max=200"`
}

// purchaseSnapshot is what gets serialized into the audit log when a
// purchase is reversed.
type purchaseSnapshot struct {
	Transaction models.Transaction `json:"transaction"`
	LedgerEntry models.LedgerEntry `json:"ledger_entry"`
}

// Reverse resolves the reference and undoes it.
func (s *ReversalService) Reverse(req *ReversalRequest) error {
	if err := s.validator.ValidateStruct(req); err != nil {
		return &ValidationError{Message: "invalid reversal request: " + err.Error()}
	}

	var accountID string
	var amount int64
	var itemIDs []string

	err := s.ledger.runAtomic("reversal", func(tx *sql.Tx) error {
		itemIDs = nil

		txn, err := s.lockTransaction(tx, req.Ref)
		if err == nil {
			accountID = txn.AccountID
			amount = txn.Total
			itemIDs, err = s.reversePurchase(tx, txn, req)
			return err
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		entry, err := s.ledger.lockEntry(tx, req.Ref)
		if err == nil {
			if entry.Kind == models.EntryPurchase {
				// A purchase entry reference is treated as a reversal of
				// its transaction.
				txn, err := s.lockTransaction(tx, *entry.TransactionID)
				if err != nil {
					return err
				}
				accountID = txn.AccountID
				amount = txn.Total
				itemIDs, err = s.reversePurchase(tx, txn, req)
				return err
			}
			accountID = entry.AccountID
			amount = entry.Amount
			return s.reverseSimpleEntry(tx, entry, req)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		reversed, err := s.alreadyReversed(tx, req.Ref)
		if err != nil {
			return err
		}
		if reversed {
			return fmt.Errorf("%s: %w", req.Ref, ErrAlreadyReversed)
		}
		return &NotFoundError{Resource: "transaction or ledger entry", Ref: req.Ref}
	})

	if err != nil {
		s.audit.LogError(req.Ref, accountID, err)
		return err
	}

	s.audit.LogReversal(req.Ref, accountID, req.Actor, req.Reason, amount)

	keys := []string{cache.AccountKey(accountID), cache.LedgerKey(), cache.AuditLogKey()}
	for _, itemID := range itemIDs {
		keys = append(keys, cache.ItemKey(itemID))
	}
	s.invalidator.Invalidate(context.Background(), keys...)

	return nil
}

func (s *ReversalService) lockTransaction(tx *sql.Tx, transactionID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := tx.QueryRow(`
		SELECT id, account_id, total, created_at
		FROM transactions
		WHERE id = $1
		FOR UPDATE`, transactionID).Scan(
		&txn.ID, &txn.AccountID, &txn.Total, &txn.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "transaction", Ref: transactionID}
	}
	if err != nil {
		return nil, &StorageError{Op: "lock transaction", Err: err}
	}
	return &txn, nil
}

func (s *ReversalService) loadTransactionItems(tx *sql.Tx, transactionID string) ([]models.TransactionItem, error) {
	rows, err := tx.Query(`
		SELECT id, transaction_id, item_id, quantity, unit_price, line_no
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY line_no`, transactionID)
	if err != nil {
		return nil, &StorageError{Op: "load transaction items", Err: err}
	}
	defer rows.Close()

	items := []models.TransactionItem{}
	for rows.Next() {
		var item models.TransactionItem
		if err := rows.Scan(&item.ID, &item.TransactionID, &item.ItemID,
			&item.Quantity, &item.UnitPrice, &item.LineNo); err != nil {
			return nil, &StorageError{Op: "scan transaction items", Err: err}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// reversePurchase undoes a composite purchase inside the caller's
// transaction and returns the ids of the items whose stock was restored.
func (s *ReversalService) reversePurchase(tx *sql.Tx, txn *models.Transaction, req *ReversalRequest) ([]string, error) {
	lines, err := s.loadTransactionItems(tx, txn.ID)
	if err != nil {
		return nil, err
	}
	txn.Items = lines

	entry, err := s.ledger.entryByTransaction(tx, txn.ID)
	if err != nil {
		return nil, err
	}

	account, err := s.ledger.lockAccount(tx, txn.AccountID)
	if err != nil {
		return nil, err
	}

	quantities := make(map[string]int, len(lines))
	itemIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		quantities[line.ItemID] += line.Quantity
		itemIDs = append(itemIDs, line.ItemID)
	}
	sort.Strings(itemIDs)

	for _, itemID := range itemIDs {
		item, err := s.ledger.lockItem(tx, itemID)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.updateItemStock(tx, item.ID, item.Stock+quantities[itemID], item.Version); err != nil {
			return nil, err
		}
	}

	if err := s.ledger.updateAccountBalance(tx, account.ID, account.Balance+txn.Total, account.Version); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM ledger_entries WHERE id = $1`, entry.ID); err != nil {
		return nil, &StorageError{Op: "delete ledger entry", Err: err}
	}
	if _, err := tx.Exec(`DELETE FROM transaction_items WHERE transaction_id = $1`, txn.ID); err != nil {
		return nil, &StorageError{Op: "delete transaction items", Err: err}
	}
	if _, err := tx.Exec(`DELETE FROM transactions WHERE id = $1`, txn.ID); err != nil {
		return nil, &StorageError{Op: "delete transaction", Err: err}
	}

	snapshot, err := json.Marshal(purchaseSnapshot{Transaction: *txn, LedgerEntry: *entry})
	if err != nil {
		return nil, &StorageError{Op: "serialize snapshot", Err: err}
	}

	if err := s.insertAuditEntry(tx, req, txn.ID, snapshot); err != nil {
		return nil, err
	}
	return itemIDs, nil
}

// reverseSimpleEntry undoes a deposit or withdrawal entry. The inverse
// balance delta is applied: deleting a deposit debits the account again, so
// a deposit that was already spent cannot be reversed.
func (s *ReversalService) reverseSimpleEntry(tx *sql.Tx, entry *models.LedgerEntry, req *ReversalRequest) error {
	account, err := s.ledger.lockAccount(tx, entry.AccountID)
	if err != nil {
		return err
	}

	var newBalance int64
	switch entry.Kind {
	case models.EntryDeposit:
		newBalance = account.Balance - entry.Amount
		if newBalance < 0 {
			return &InsufficientFundsError{
				AccountID: account.ID,
				Balance:   account.Balance,
				Required:  entry.Amount,
			}
		}
	case models.EntryWithdrawal:
		newBalance = account.Balance + entry.Amount
	default:
		return &ValidationError{Message: fmt.Sprintf("cannot reverse entry of kind %s", entry.Kind)}
	}

	if err := s.ledger.updateAccountBalance(tx, account.ID, newBalance, account.Version); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM ledger_entries WHERE id = $1`, entry.ID); err != nil {
		return &StorageError{Op: "delete ledger entry", Err: err}
	}

	snapshot, err := json.Marshal(entry)
	if err != nil {
		return &StorageError{Op: "serialize snapshot", Err: err}
	}

	return s.insertAuditEntry(tx, req, entry.ID, snapshot)
}

func (s *ReversalService) insertAuditEntry(tx *sql.Tx, req *ReversalRequest, originalRef string, snapshot []byte) error {
	if _, err := tx.Exec(`
		INSERT INTO audit_log (occurred_at, actor, reason, original_ref, snapshot)
		VALUES ($1, $2, $3, $4, $5)`,
		time.Now(), req.Actor, req.Reason, originalRef, snapshot); err != nil {
		return &StorageError{Op: "insert audit log entry", Err: err}
	}
	return nil
}

func (s *ReversalService) alreadyReversed(tx *sql.Tx, ref string) (bool, error) {
	var exists bool
	err := tx.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM audit_log
			WHERE original_ref = $1
		)`, ref).Scan(&exists)
	if err != nil {
		return false, &StorageError{Op: "check audit log", Err: err}
	}
	return exists, nil
}

// HandleReverse handles reversal requests
// @Summary Reverse a purchase or ledger entry
// @Description Atomically undo a prior mutation and record it in the audit log
// @Tags reversals
// @Accept json
// @Produce json
// @Param reversal body ReversalRequest true "Reversal data"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} object{success=bool,message=string}
// @Failure 409 {object} object{success=bool,message=string}
// @Router /reversals [post]
func (s *ReversalService) HandleReverse(w http.ResponseWriter, r *http.Request) {
	var req ReversalRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	// The token identity is authoritative for the audit trail; the body
	// actor only stands in when the request is unauthenticated.
	if actor := middleware.ActorFromContext(r.Context()); actor != "" {
		req.Actor = actor
	}

	if err := s.Reverse(&req); err != nil {
		log.Printf("[REVERSAL] Rejected reversal of %s: %v", req.Ref, err)
		SendOperationError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{"success": true})
}
