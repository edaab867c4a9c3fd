package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/commission"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/service"
)

type earningsService interface {
	RecordPayable(ctx context.Context, req service.PayableRequest) ([]*domain.Entry, error)
}

type EarningsHandler struct {
	earnings earningsService
}

func NewEarningsHandler(earnings earningsService) *EarningsHandler {
	return &EarningsHandler{earnings: earnings}
}

// payableRequest names the credited account directly or through its owner.
type payableRequest struct {
	EventID     string     `json:"event_id" validate:"required,max=200"`
	AccountID   string     `json:"account_id" validate:"omitempty,uuid"`
	OwnerID     string     `json:"owner_id" validate:"required_without=AccountID,max=128"`
	Role        string     `json:"role" validate:"required"`
	Category    string     `json:"category"`
	GrossAmount string     `json:"gross_amount" validate:"required,amount"`
	Currency    string     `json:"currency" validate:"required,currency"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

func (p payableRequest) toService() (service.PayableRequest, error) {
	gross, err := domain.ParseMoney(p.GrossAmount, domain.Currency(p.Currency))
	if err != nil {
		return service.PayableRequest{}, err
	}
	req := service.PayableRequest{
		OwnerID: p.OwnerID,
		Event: commission.PayableEvent{
			EventID:  p.EventID,
			Role:     p.Role,
			Category: p.Category,
			Gross:    gross,
		},
	}
	if p.AccountID != "" {
		req.AccountID = uuid.MustParse(p.AccountID)
	}
	if p.OccurredAt != nil {
		req.Event.OccurredAt = p.OccurredAt.UTC()
	}
	return req, nil
}

type payableResultDTO struct {
	Duplicate bool       `json:"duplicate"`
	Entries   []entryDTO `json:"entries"`
}

// RecordPayable returns 201 for a new event and 200 with the stored entries
// for one that was already booked.
func (h *EarningsHandler) RecordPayable(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var body payableRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}
	req, err := body.toService()
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	entries, err := h.earnings.RecordPayable(r.Context(), req)
	status := http.StatusCreated
	if err != nil {
		if !errors.Is(err, domain.ErrDuplicateEntry) || len(entries) == 0 {
			log.Warn("payable event refused", "event_id", body.EventID, "error", err)
			RespondDomainError(w, err)
			return
		}
		status = http.StatusOK
	}

	dtos := make([]entryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	RespondSuccess(w, status, payableResultDTO{Duplicate: status == http.StatusOK, Entries: dtos})
}
