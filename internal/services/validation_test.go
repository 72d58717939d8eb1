package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Ref    string `json:"ref"`
		Amount int64  `json:"amount"`
	}

	decode := func(body string) error {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/adjustments/batch", strings.NewReader(body))
		var dst payload
		return DecodeJSONBody(httptest.NewRecorder(), req, &dst)
	}

	t.Run("accepts a single JSON object", func(t *testing.T) {
		assert.NoError(t, decode(`{"ref": "1001", "amount": 5000}`))
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		err := decode(`{"ref": "1001", "amont": 5000}`)

		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("rejects trailing content", func(t *testing.T) {
		err := decode(`{"ref": "1001"}{"ref": "1002"}`)

		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		err := decode(`{"ref": `)

		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})
}

func TestValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("passes a well-formed request", func(t *testing.T) {
		err := vh.ValidateStruct(&ReversalRequest{
			Ref:    testTransactionID,
			Reason: "Wrong student charged",
			Actor:  "kasir@sekolah.id",
		})
		assert.NoError(t, err)
	})

	t.Run("flags a missing field", func(t *testing.T) {
		err := vh.ValidateStruct(&ReversalRequest{Ref: testTransactionID})
		assert.Error(t, err)
	})

	t.Run("flags a malformed uuid", func(t *testing.T) {
		err := vh.ValidateStruct(&PurchaseRequest{
			AccountID: "not-a-uuid",
			Items:     []PurchaseLine{{ItemID: testItemX, Quantity: 1}},
		})
		assert.Error(t, err)
	})
}

func TestSendOperationError(t *testing.T) {
	w := httptest.NewRecorder()
	SendOperationError(w, &InsufficientFundsError{Balance: 5000, Required: 45000})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "insufficient funds")
}

func TestSendErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	SendErrorResponse(w, "invalid request body", http.StatusBadRequest, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid request body", resp.Error)
}
