package services

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kantinpay/backend/internal/audit"
	"github.com/kantinpay/backend/internal/cache"
	"github.com/kantinpay/backend/internal/models"
)

// PurchaseService executes composite purchases: it debits the account,
// decrements stock for every line and appends exactly one PURCHASE ledger
// entry, all in one atomic unit. All preconditions are evaluated against the
// row-locked snapshot, so a concurrent purchase can never oversell an item or
// overdraw an account.
type PurchaseService struct {
	ledger      *LedgerService
	audit       *audit.Logger
	invalidator *cache.Invalidator
	validator   *ValidationHelper
}

func NewPurchaseService(ledger *LedgerService, invalidator *cache.Invalidator) *PurchaseService {
	return &PurchaseService{
		ledger:      ledger,
		audit:       audit.NewLogger(),
		invalidator: invalidator,
		validator:   NewValidationHelper(),
	}
}

// PurchaseLine is one requested cart line.
type PurchaseLine struct {
	ItemID   string `json:"item_id" validate:"required,uuid4"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

// PurchaseRequest is the submit_purchase input.
type PurchaseRequest struct {
	AccountID string         `json:"account_id" validate:"required,uuid4"`
	Items     []PurchaseLine `json:"items" validate:"required,min=1,dive"`
}

// Submit runs the purchase and returns the new transaction id.
//
// Precondition order is fixed: every line's stock is checked before the funds
// total, and lines are checked in request order, so the first failing reason
// reported is deterministic.
func (s *PurchaseService) Submit(req *PurchaseRequest) (string, error) {
	if err := s.validator.ValidateStruct(req); err != nil {
		return "", &ValidationError{Message: "invalid purchase request: " + err.Error()}
	}

	seen := make(map[string]bool, len(req.Items))
	for _, line := range req.Items {
		if seen[line.ItemID] {
			return "", &ValidationError{Message: "duplicate item in purchase: " + line.ItemID}
		}
		seen[line.ItemID] = true
	}

	transactionID := uuid.NewString()

	var account *models.Account
	var total int64
	var itemIDs []string

	err := s.ledger.runAtomic("purchase", func(tx *sql.Tx) error {
		var err error
		account, err = s.ledger.lockAccount(tx, req.AccountID)
		if err != nil {
			return err
		}

		// Lock items sorted by id so two purchases sharing items always
		// acquire locks in the same order.
		sortedIDs := make([]string, 0, len(req.Items))
		for _, line := range req.Items {
			sortedIDs = append(sortedIDs, line.ItemID)
		}
		sort.Strings(sortedIDs)

		items := make(map[string]*models.Item, len(sortedIDs))
		for _, itemID := range sortedIDs {
			item, err := s.ledger.lockItem(tx, itemID)
			if err != nil {
				return err
			}
			items[itemID] = item
		}

		// All stock lines are checked before the funds total.
		for _, line := range req.Items {
			item := items[line.ItemID]
			if line.Quantity > item.Stock {
				return &InsufficientStockError{
					ItemID:    item.ID,
					ItemName:  item.Name,
					Requested: line.Quantity,
					Available: item.Stock,
				}
			}
		}

		total = 0
		for _, line := range req.Items {
			total += items[line.ItemID].Price * int64(line.Quantity)
		}
		if total > account.Balance {
			return &InsufficientFundsError{
				AccountID: account.ID,
				Balance:   account.Balance,
				Required:  total,
			}
		}

		for _, line := range req.Items {
			item := items[line.ItemID]
			if err := s.ledger.updateItemStock(tx, item.ID, item.Stock-line.Quantity, item.Version); err != nil {
				return err
			}
		}

		if err := s.ledger.updateAccountBalance(tx, account.ID, account.Balance-total, account.Version); err != nil {
			return err
		}

		now := time.Now()
		if _, err := tx.Exec(`
			INSERT INTO transactions (id, account_id, total, created_at)
			VALUES ($1, $2, $3, $4)`,
			transactionID, account.ID, total, now); err != nil {
			return &StorageError{Op: "insert transaction", Err: err}
		}

		for i, line := range req.Items {
			item := items[line.ItemID]
			if _, err := tx.Exec(`
				INSERT INTO transaction_items (transaction_id, item_id, quantity, unit_price, line_no)
				VALUES ($1, $2, $3, $4, $5)`,
				transactionID, item.ID, line.Quantity, item.Price, i+1); err != nil {
				return &StorageError{Op: "insert transaction item", Err: err}
			}
		}

		itemIDs = sortedIDs
		return s.ledger.insertEntry(tx, &models.LedgerEntry{
			ID:            uuid.NewString(),
			AccountID:     account.ID,
			Kind:          models.EntryPurchase,
			Amount:        total,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance - total,
			Note:          "Purchase",
			TransactionID: &transactionID,
			OccurredAt:    now,
		})
	})

	if err != nil {
		s.audit.LogError(transactionID, req.AccountID, err)
		return "", err
	}

	s.audit.LogPurchase(transactionID, account.ID, total)

	keys := []string{cache.AccountKey(account.ID), cache.LedgerKey()}
	for _, itemID := range itemIDs {
		keys = append(keys, cache.ItemKey(itemID))
	}
	s.invalidator.Invalidate(context.Background(), keys...)

	return transactionID, nil
}

// SubmitPurchase handles purchase submission
// @Summary Submit a purchase
// @Description Atomically debit the account, decrement stock and record the transaction
// @Tags purchases
// @Accept json
// @Produce json
// @Param purchase body PurchaseRequest true "Purchase data"
// @Success 201 {object} object{success=bool,transaction_id=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} object{success=bool,message=string}
// @Failure 422 {object} object{success=bool,message=string}
// @Router /purchases [post]
func (s *PurchaseService) SubmitPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	transactionID, err := s.Submit(&req)
	if err != nil {
		log.Printf("[PURCHASE] Rejected purchase for account %s: %v", req.AccountID, err)
		SendOperationError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]any{
		"success":        true,
		"transaction_id": transactionID,
	})
}
