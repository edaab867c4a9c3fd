package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type walletService interface {
	accountGetter
	Provision(ctx context.Context, ownerID string, kind domain.AccountKind, currency domain.Currency) (*domain.Account, error)
	SetVerified(ctx context.Context, accountID uuid.UUID, verified bool) (*domain.Account, error)
	Deactivate(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	UpdatePolicy(ctx context.Context, accountID uuid.UUID, policy domain.WithdrawalPolicy, cadence domain.BillingCadence) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error)
	GetSummary(ctx context.Context, accountID uuid.UUID) (*service.AccountSummary, error)
}

type entryReader interface {
	GetEntry(ctx context.Context, entryID uuid.UUID) (*domain.Entry, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Entry, int, error)
}

type AccountHandler struct {
	wallet  walletService
	entries entryReader
}

func NewAccountHandler(wallet walletService, entries entryReader) *AccountHandler {
	return &AccountHandler{wallet: wallet, entries: entries}
}

type provisionRequest struct {
	OwnerID  string `json:"owner_id" validate:"required,max=128"`
	Kind     string `json:"kind" validate:"required,oneof=individual business"`
	Currency string `json:"currency" validate:"required,currency"`
}

type verificationRequest struct {
	Verified *bool `json:"verified" validate:"required"`
}

type policyRequest struct {
	MinimumAmount       string `json:"minimum_amount" validate:"required,amount"`
	Automatic           bool   `json:"automatic"`
	ThresholdAmount     string `json:"threshold_amount" validate:"omitempty,amount"`
	ScheduledDayOfMonth int    `json:"scheduled_day_of_month" validate:"gte=0,lte=31"`
	BillingCadence      string `json:"billing_cadence" validate:"required,oneof=weekly monthly"`
}

func (r policyRequest) toPolicy(currency domain.Currency) (domain.WithdrawalPolicy, error) {
	minimum, err := domain.ParseMoney(r.MinimumAmount, currency)
	if err != nil {
		return domain.WithdrawalPolicy{}, err
	}
	threshold := domain.Zero(currency)
	if r.ThresholdAmount != "" {
		if threshold, err = domain.ParseMoney(r.ThresholdAmount, currency); err != nil {
			return domain.WithdrawalPolicy{}, err
		}
	}
	return domain.WithdrawalPolicy{
		MinimumAmount:       minimum.Amount,
		Automatic:           r.Automatic,
		ThresholdAmount:     threshold.Amount,
		ScheduledDayOfMonth: r.ScheduledDayOfMonth,
	}, nil
}

type entryPageDTO struct {
	Entries []entryDTO `json:"entries"`
	Total   int        `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
}

func (h *AccountHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	account, err := h.wallet.Provision(r.Context(), req.OwnerID, domain.AccountKind(req.Kind), domain.Currency(req.Currency))
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProvisioned) && account != nil {
			RespondSuccess(w, http.StatusOK, toAccountDTO(account))
			return
		}
		logging.FromContext(r.Context()).Error("failed to provision account", "owner_id", req.OwnerID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toAccountDTO(account))
}

// List returns the caller's accounts. Operators pass ?owner_id to list anyone's.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	ownerID := claims.Subject
	if q := r.URL.Query().Get("owner_id"); q != "" && claims.IsOperator() {
		ownerID = q
	}

	accounts, err := h.wallet.ListAccounts(r.Context(), ownerID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list accounts", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]accountDTO, len(accounts))
	for i := range accounts {
		dtos[i] = toAccountDTO(&accounts[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, appErr := accountFromPath(r, h.wallet)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	RespondSuccess(w, http.StatusOK, toAccountDTO(account))
}

func (h *AccountHandler) Summary(w http.ResponseWriter, r *http.Request) {
	account, appErr := accountFromPath(r, h.wallet)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	summary, err := h.wallet.GetSummary(r.Context(), account.ID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to build summary", "account_id", account.ID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toSummaryDTO(summary))
}

func (h *AccountHandler) SetVerification(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathUUID(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req verificationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	account, err := h.wallet.SetVerified(r.Context(), id, *req.Verified)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to set verification", "account_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toAccountDTO(account))
}

func (h *AccountHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	account, appErr := accountFromPath(r, h.wallet)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req policyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	policy, err := req.toPolicy(account.Currency)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	updated, err := h.wallet.UpdatePolicy(r.Context(), account.ID, policy, domain.BillingCadence(req.BillingCadence))
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to update policy", "account_id", account.ID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toAccountDTO(updated))
}

func (h *AccountHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathUUID(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	account, err := h.wallet.Deactivate(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to deactivate account", "account_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toAccountDTO(account))
}

func (h *AccountHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	account, appErr := accountFromPath(r, h.wallet)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	limit, offset, fields := pagination(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	entries, total, err := h.entries.ListEntries(r.Context(), account.ID, limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list entries", "account_id", account.ID, "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]entryDTO, len(entries))
	for i := range entries {
		dtos[i] = toEntryDTO(&entries[i])
	}
	RespondSuccess(w, http.StatusOK, entryPageDTO{Entries: dtos, Total: total, Limit: limit, Offset: offset})
}

func (h *AccountHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathUUID(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	entry, err := h.entries.GetEntry(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if _, appErr := authorizeAccount(r.Context(), h.wallet, entry.AccountID); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	RespondSuccess(w, http.StatusOK, toEntryDTO(entry))
}

func pagination(r *http.Request) (limit, offset int, fields []FieldError) {
	limit = defaultPageSize
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			fields = append(fields, FieldError{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxPageSize)})
		} else {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fields = append(fields, FieldError{Field: "offset", Message: "must be a non-negative integer"})
		} else {
			offset = n
		}
	}
	return limit, offset, fields
}
