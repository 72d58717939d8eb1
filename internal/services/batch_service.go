package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kantinpay/backend/internal/audit"
	"github.com/kantinpay/backend/internal/cache"
	"github.com/kantinpay/backend/internal/middleware"
	"github.com/kantinpay/backend/internal/models"
)

// BatchService applies many independent deposits or withdrawals in one call.
// Each record is its own atomic unit: a record that fails is recorded in the
// result and never rolls back or blocks its siblings.
type BatchService struct {
	ledger      *LedgerService
	audit       *audit.Logger
	invalidator *cache.Invalidator
	validator   *ValidationHelper
}

func NewBatchService(ledger *LedgerService, invalidator *cache.Invalidator) *BatchService {
	return &BatchService{
		ledger:      ledger,
		audit:       audit.NewLogger(),
		invalidator: invalidator,
		validator:   NewValidationHelper(),
	}
}

// BatchUpdate is one record of a batch adjustment, keyed by the account's
// external reference (the student number in the upload file). Amount is
// validated per record so a bad amount fails that record alone.
type BatchUpdate struct {
	Ref    string `json:"ref" validate:"required"`
	Amount int64  `json:"amount"`
}

// BatchAdjustRequest is the batch_adjust input. One kind, note, date and
// actor apply to the whole batch.
type BatchAdjustRequest struct {
	Updates []BatchUpdate `json:"updates" validate:"required,min=1,max=1000,dive"`
	Kind    string        `json:"kind" validate:"required,oneof=DEPOSIT WITHDRAWAL"`
	Note    string        `json:"note" validate:"required,max=500"`
	Date    time.Time     `json:"date"`
	Actor   string        `json:"actor" validate:"required,max=200"`
}

// BatchRecordError itemizes one failed record.
type BatchRecordError struct {
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// BatchResult aggregates per-record outcomes. Success of the call as a whole
// means ErrorCount is zero; a partial failure still carries every applied
// record's final effect.
type BatchResult struct {
	SuccessCount int                `json:"success_count"`
	ErrorCount   int                `json:"error_count"`
	Errors       []BatchRecordError `json:"errors"`
}

// Adjust runs the batch. Only a malformed batch envelope fails the call;
// record-level failures land in the result.
func (s *BatchService) Adjust(req *BatchAdjustRequest) (*BatchResult, error) {
	if err := s.validator.ValidateStruct(req); err != nil {
		return nil, &ValidationError{Message: "invalid batch adjustment request: " + err.Error()}
	}

	occurredAt := req.Date
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	result := &BatchResult{Errors: []BatchRecordError{}}
	var staleAccounts []string

	for _, update := range req.Updates {
		accountID, err := s.applyOne(update, req.Kind, req.Note, occurredAt)
		if err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, BatchRecordError{
				Ref:    update.Ref,
				Reason: err.Error(),
			})
			s.audit.LogAdjustment(update.Ref, req.Kind, req.Actor, update.Amount, "FAILED")
			continue
		}
		result.SuccessCount++
		staleAccounts = append(staleAccounts, accountID)
		s.audit.LogAdjustment(update.Ref, req.Kind, req.Actor, update.Amount, "SUCCESS")
	}

	if len(staleAccounts) > 0 {
		keys := []string{cache.LedgerKey()}
		for _, accountID := range staleAccounts {
			keys = append(keys, cache.AccountKey(accountID))
		}
		s.invalidator.Invalidate(context.Background(), keys...)
	}

	return result, nil
}

// applyOne resolves and adjusts a single account atomically, returning the
// account id for cache invalidation.
func (s *BatchService) applyOne(update BatchUpdate, kind, note string, occurredAt time.Time) (string, error) {
	if update.Amount <= 0 {
		return "", &ValidationError{Message: "amount must be positive"}
	}

	var accountID string
	err := s.ledger.runAtomic("batch adjust", func(tx *sql.Tx) error {
		account, err := s.ledger.lockAccountByRef(tx, update.Ref)
		if err != nil {
			return err
		}
		accountID = account.ID

		var newBalance int64
		switch kind {
		case models.EntryDeposit:
			newBalance = account.Balance + update.Amount
		case models.EntryWithdrawal:
			if account.Balance < update.Amount {
				return &InsufficientFundsError{
					AccountID: account.ID,
					Balance:   account.Balance,
					Required:  update.Amount,
				}
			}
			newBalance = account.Balance - update.Amount
		default:
			return &ValidationError{Message: fmt.Sprintf("unknown adjustment kind %s", kind)}
		}

		if err := s.ledger.updateAccountBalance(tx, account.ID, newBalance, account.Version); err != nil {
			return err
		}

		return s.ledger.insertEntry(tx, &models.LedgerEntry{
			ID:            uuid.NewString(),
			AccountID:     account.ID,
			Kind:          kind,
			Amount:        update.Amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  newBalance,
			Note:          note,
			OccurredAt:    occurredAt,
		})
	})
	if err != nil {
		return "", err
	}
	return accountID, nil
}

// BatchAdjust handles bulk balance adjustments
// @Summary Apply a batch of deposits or withdrawals
// @Description Apply independent balance adjustments with per-record fault isolation
// @Tags adjustments
// @Accept json
// @Produce json
// @Param batch body BatchAdjustRequest true "Batch adjustment data"
// @Success 200 {object} object{success=bool,message=string,success_count=int,error_count=int,errors=[]BatchRecordError}
// @Failure 400 {object} object{success=bool,message=string,success_count=int,error_count=int,errors=[]BatchRecordError}
// @Router /adjustments/batch [post]
func (s *BatchService) BatchAdjust(w http.ResponseWriter, r *http.Request) {
	var req BatchAdjustRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	// The token identity is authoritative for the audit trail; the body
	// actor only stands in when the request is unauthenticated.
	if actor := middleware.ActorFromContext(r.Context()); actor != "" {
		req.Actor = actor
	}

	result, err := s.Adjust(&req)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			SendErrorResponse(w, vErr.Message, http.StatusBadRequest, nil)
			return
		}
		log.Printf("[BATCH] Batch adjustment failed: %v", err)
		SendErrorResponse(w, "Failed to process batch adjustment", http.StatusInternalServerError, nil)
		return
	}

	// Full success and partial failure share the same body; the status code
	// is what callers branch on.
	status := http.StatusOK
	if result.ErrorCount > 0 {
		status = http.StatusBadRequest
	}

	SendJSON(w, status, map[string]any{
		"success":       result.ErrorCount == 0,
		"message":       fmt.Sprintf("%d succeeded, %d failed", result.SuccessCount, result.ErrorCount),
		"success_count": result.SuccessCount,
		"error_count":   result.ErrorCount,
		"errors":        result.Errors,
	})
}
