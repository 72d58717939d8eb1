package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Event is one structured audit line. Reversals additionally persist an
// audit_log row in the same database transaction; this logger is the
// operational stream on top of that.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	OriginalRef string    `json:"original_ref,omitempty"`
	AccountID   string    `json:"account_id,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	Status      string    `json:"status"`
	Details     any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogPurchase(transactionID, accountID string, total int64) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "PURCHASE",
		OriginalRef: transactionID,
		AccountID:   accountID,
		Amount:      total,
		Status:      "SUCCESS",
	})
}

func (a *Logger) LogReversal(originalRef, accountID, actor, reason string, amount int64) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "REVERSAL",
		OriginalRef: originalRef,
		AccountID:   accountID,
		Amount:      amount,
		Actor:       actor,
		Status:      "SUCCESS",
		Details:     map[string]string{"reason": reason},
	})
}

func (a *Logger) LogAdjustment(accountRef, kind, actor string, amount int64, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ADJUSTMENT",
		AccountID: accountRef,
		Amount:    amount,
		Actor:     actor,
		Status:    status,
		Details:   map[string]string{"kind": kind},
	})
}

func (a *Logger) LogError(originalRef, accountID string, err error) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "ERROR",
		OriginalRef: originalRef,
		AccountID:   accountID,
		Status:      "FAILED",
		Details:     map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
