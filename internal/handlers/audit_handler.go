package handlers

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kantinpay/backend/internal/services"
)

type AuditHandler struct {
	service *services.AuditLogService
}

func NewAuditHandler(service *services.AuditLogService) *AuditHandler {
	return &AuditHandler{service: service}
}

// ListEntries lists reversal audit entries
// @Summary List audit log entries
// @Description List reversal records newest-first, each with a snapshot of what was undone
// @Tags audit
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max entries (default 100)"
// @Success 200 {object} object{entries=[]models.AuditLogEntry,count=int}
// @Failure 500 {object} services.ErrorResponse
// @Router /audit-log [get]
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	entries, err := h.service.List(limit)
	if err != nil {
		log.Printf("[AUDIT] Failed to list audit log: %v", err)
		services.SendErrorResponse(w, "Failed to fetch audit log", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetEntry fetches the audit entry for a reversed reference
// @Summary Get an audit log entry
// @Tags audit
// @Produce json
// @Security BearerAuth
// @Param ref path string true "Original transaction or ledger entry id"
// @Success 200 {object} models.AuditLogEntry
// @Failure 404 {object} object{success=bool,message=string}
// @Router /audit-log/{ref} [get]
func (h *AuditHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	if ref == "" {
		services.SendErrorResponse(w, "reference is required", http.StatusBadRequest, nil)
		return
	}

	entry, err := h.service.Get(ref)
	if err != nil {
		services.SendOperationError(w, err)
		return
	}

	services.SendJSON(w, http.StatusOK, entry)
}
