package services

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kantinpay/backend/internal/models"
)

// AccountService is the read/registration side of the account store. Balance
// mutation is reserved for the purchase, reversal and batch services.
type AccountService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{db: db, validator: NewValidationHelper()}
}

type CreateAccountRequest struct {
	ExternalRef string `json:"external_ref" validate:"required,max=50"`
	DisplayName string `json:"display_name" validate:"required,max=200"`
	GroupTag    string `json:"group_tag" validate:"max=50"`
}

// Create registers a new account with a zero balance. Opening balances are
// loaded through the batch adjuster so they land in the ledger too.
func (s *AccountService) Create(req *CreateAccountRequest) (*models.Account, error) {
	if err := s.validator.ValidateStruct(req); err != nil {
		return nil, &ValidationError{Message: "invalid account: " + err.Error()}
	}

	account := &models.Account{
		ID:          uuid.NewString(),
		ExternalRef: req.ExternalRef,
		DisplayName: req.DisplayName,
		GroupTag:    req.GroupTag,
		Version:     1,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	_, err := s.db.Exec(`
		INSERT INTO accounts (id, external_ref, display_name, balance, group_tag, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, 1, $5, $6)`,
		account.ID, account.ExternalRef, account.DisplayName, account.GroupTag,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return nil, &StorageError{Op: "insert account", Err: err}
	}
	return account, nil
}

// GetByRef resolves an account by id or external reference.
func (s *AccountService) GetByRef(ref string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRow(`
		SELECT id, external_ref, display_name, balance, group_tag, version, created_at, updated_at
		FROM accounts
		WHERE id::text = $1 OR external_ref = $1
		LIMIT 1`, ref).Scan(
		&account.ID, &account.ExternalRef, &account.DisplayName, &account.Balance,
		&account.GroupTag, &account.Version, &account.CreatedAt, &account.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "account", Ref: ref}
	}
	if err != nil {
		return nil, &StorageError{Op: "fetch account", Err: err}
	}
	return &account, nil
}

// List returns accounts ordered by display name, optionally scoped to a
// group tag.
func (s *AccountService) List(groupTag string, limit int) ([]models.Account, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, external_ref, display_name, balance, group_tag, version, created_at, updated_at
		FROM accounts
	`
	args := []interface{}{}
	if groupTag != "" {
		query += " WHERE group_tag = $1 ORDER BY display_name LIMIT $2"
		args = append(args, groupTag, limit)
	} else {
		query += " ORDER BY display_name LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &StorageError{Op: "list accounts", Err: err}
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(&account.ID, &account.ExternalRef, &account.DisplayName,
			&account.Balance, &account.GroupTag, &account.Version,
			&account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, &StorageError{Op: "scan account", Err: err}
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// CreateAccount handles account registration
// @Summary Register an account
// @Tags accounts
// @Accept json
// @Produce json
// @Param account body CreateAccountRequest true "Account data"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Router /accounts [post]
func (s *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	account, err := s.Create(&req)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to create account %s: %v", req.ExternalRef, err)
		SendOperationError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, account)
}

// GetAccount handles account lookup by id or external reference
// @Summary Get an account
// @Tags accounts
// @Produce json
// @Param ref path string true "Account id or external reference"
// @Success 200 {object} models.Account
// @Failure 404 {object} object{success=bool,message=string}
// @Router /accounts/{ref} [get]
func (s *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	if ref == "" {
		SendErrorResponse(w, "account reference is required", http.StatusBadRequest, nil)
		return
	}

	account, err := s.GetByRef(ref)
	if err != nil {
		SendOperationError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, account)
}

// ListAccounts handles account listing
// @Summary List accounts
// @Tags accounts
// @Produce json
// @Param group query string false "Filter by group tag"
// @Param limit query int false "Max accounts (default 100)"
// @Success 200 {object} object{accounts=[]models.Account,count=int}
// @Router /accounts [get]
func (s *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	accounts, err := s.List(r.URL.Query().Get("group"), limit)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to list accounts: %v", err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}
