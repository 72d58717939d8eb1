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

// InventoryService is the read/registration side of the item store. Stock
// mutation is reserved for the purchase and reversal services.
type InventoryService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewInventoryService(db *sql.DB) *InventoryService {
	return &InventoryService{db: db, validator: NewValidationHelper()}
}

type CreateItemRequest struct {
	Name     string  `json:"name" validate:"required,max=200"`
	Price    int64   `json:"price" validate:"gte=0"`
	Stock    int     `json:"stock" validate:"gte=0"`
	Barcode  *string `json:"barcode,omitempty" validate:"omitempty,max=64"`
	ImageRef *string `json:"image_ref,omitempty" validate:"omitempty,max=500"`
}

func (s *InventoryService) Create(req *CreateItemRequest) (*models.Item, error) {
	if err := s.validator.ValidateStruct(req); err != nil {
		return nil, &ValidationError{Message: "invalid item: " + err.Error()}
	}

	item := &models.Item{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Price:     req.Price,
		Stock:     req.Stock,
		Barcode:   req.Barcode,
		ImageRef:  req.ImageRef,
		Version:   1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	_, err := s.db.Exec(`
		INSERT INTO items (id, name, price, stock, barcode, image_ref, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)`,
		item.ID, item.Name, item.Price, item.Stock, item.Barcode, item.ImageRef,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return nil, &StorageError{Op: "insert item", Err: err}
	}
	return item, nil
}

// GetByRef resolves an item by id or barcode. The cashier screen scans
// barcodes, so both resolve through the same lookup.
func (s *InventoryService) GetByRef(ref string) (*models.Item, error) {
	var item models.Item
	err := s.db.QueryRow(`
		SELECT id, name, price, stock, barcode, image_ref, version, created_at, updated_at
		FROM items
		WHERE id::text = $1 OR barcode = $1
		LIMIT 1`, ref).Scan(
		&item.ID, &item.Name, &item.Price, &item.Stock, &item.Barcode,
		&item.ImageRef, &item.Version, &item.CreatedAt, &item.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "item", Ref: ref}
	}
	if err != nil {
		return nil, &StorageError{Op: "fetch item", Err: err}
	}
	return &item, nil
}

func (s *InventoryService) List(limit int) ([]models.Item, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, name, price, stock, barcode, image_ref, version, created_at, updated_at
		FROM items
		ORDER BY name
		LIMIT $1`, limit)
	if err != nil {
		return nil, &StorageError{Op: "list items", Err: err}
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		var item models.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.Stock,
			&item.Barcode, &item.ImageRef, &item.Version,
			&item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, &StorageError{Op: "scan item", Err: err}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateItem handles item registration
// @Summary Register an item
// @Tags items
// @Accept json
// @Produce json
// @Param item body CreateItemRequest true "Item data"
// @Success 201 {object} models.Item
// @Failure 400 {object} ErrorResponse
// @Router /items [post]
func (s *InventoryService) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	item, err := s.Create(&req)
	if err != nil {
		log.Printf("[INVENTORY] Failed to create item %s: %v", req.Name, err)
		SendOperationError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, item)
}

// GetItem handles item lookup by id or barcode
// @Summary Get an item
// @Tags items
// @Produce json
// @Param ref path string true "Item id or barcode"
// @Success 200 {object} models.Item
// @Failure 404 {object} object{success=bool,message=string}
// @Router /items/{ref} [get]
func (s *InventoryService) GetItem(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	if ref == "" {
		SendErrorResponse(w, "item reference is required", http.StatusBadRequest, nil)
		return
	}

	item, err := s.GetByRef(ref)
	if err != nil {
		SendOperationError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, item)
}

// ListItems handles item listing
// @Summary List items
// @Tags items
// @Produce json
// @Param limit query int false "Max items (default 100)"
// @Success 200 {object} object{items=[]models.Item,count=int}
// @Router /items [get]
func (s *InventoryService) ListItems(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	items, err := s.List(limit)
	if err != nil {
		log.Printf("[INVENTORY] Failed to list items: %v", err)
		SendErrorResponse(w, "Failed to fetch items", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}
