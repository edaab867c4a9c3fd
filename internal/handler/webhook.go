package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type settlementEventRepository interface {
	Create(ctx context.Context, event *domain.SettlementEvent) error
}

// WebhookHandler accepts payout rail callbacks. It only verifies and stores
// them; the settlement processor applies them to the ledger.
type WebhookHandler struct {
	events settlementEventRepository
	secret string
}

func NewWebhookHandler(events settlementEventRepository, secret string) *WebhookHandler {
	return &WebhookHandler{events: events, secret: secret}
}

type payoutCallbackBody struct {
	EventID       string `json:"event_id" validate:"required,uuid"`
	WithdrawalID  string `json:"withdrawal_id" validate:"required,uuid"`
	Status        string `json:"status" validate:"required,oneof=settled rejected"`
	RailReference string `json:"rail_reference" validate:"required_if=Status settled"`
	Reason        string `json:"reason"`
}

func (h *WebhookHandler) ReceivePayoutCallback(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get("X-Webhook-Signature")
	if !verifyHMAC(body, sig, h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload payoutCallbackBody
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := validationErrors(validate.Struct(payload)); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	event := &domain.SettlementEvent{
		ID:             uuid.New(),
		IdempotencyKey: payload.EventID,
		WithdrawalID:   uuid.MustParse(payload.WithdrawalID),
		Outcome:        domain.SettlementOutcome(payload.Status),
		Payload:        body,
		Status:         domain.SettlementEventStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.events.Create(r.Context(), event); err != nil {
		if isDuplicateKey(err) {
			log.Info("duplicate payout callback received", "event_id", payload.EventID, "withdrawal_id", payload.WithdrawalID)
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
			return
		}
		log.Error("failed to store settlement event", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("settlement event stored",
		"settlement_event_id", event.ID,
		"rail_event_id", payload.EventID,
		"withdrawal_id", payload.WithdrawalID,
		"outcome", event.Outcome,
	)

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return false
}
