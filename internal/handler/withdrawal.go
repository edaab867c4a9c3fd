package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type withdrawalService interface {
	RequestWithdrawal(ctx context.Context, accountID uuid.UUID, amount *domain.Money) (*domain.Withdrawal, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	List(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Withdrawal, error)
}

type WithdrawalHandler struct {
	withdrawals withdrawalService
	accounts    accountGetter
}

func NewWithdrawalHandler(withdrawals withdrawalService, accounts accountGetter) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals, accounts: accounts}
}

// An empty amount withdraws everything above the account's minimum reserve.
type requestWithdrawalRequest struct {
	Amount   string `json:"amount" validate:"omitempty,amount"`
	Currency string `json:"currency" validate:"omitempty,currency"`
}

func (h *WithdrawalHandler) Request(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	account, appErr := accountFromPath(r, h.accounts)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req requestWithdrawalRequest
	if r.ContentLength != 0 {
		if !decodeAndValidate(w, r, &req) {
			return
		}
	}

	var amount *domain.Money
	if req.Amount != "" {
		currency := account.Currency
		if req.Currency != "" {
			currency = domain.Currency(req.Currency)
		}
		m, err := domain.ParseMoney(req.Amount, currency)
		if err != nil {
			RespondDomainError(w, err)
			return
		}
		amount = &m
	}

	wd, err := h.withdrawals.RequestWithdrawal(r.Context(), account.ID, amount)
	if err != nil {
		log.Warn("withdrawal request refused", "account_id", account.ID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toWithdrawalDTO(wd))
}

func (h *WithdrawalHandler) List(w http.ResponseWriter, r *http.Request) {
	account, appErr := accountFromPath(r, h.accounts)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			RespondValidationError(w, []FieldError{{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxPageSize)}})
			return
		}
		limit = n
	}

	ws, err := h.withdrawals.List(r.Context(), account.ID, limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list withdrawals", "account_id", account.ID, "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]withdrawalDTO, len(ws))
	for i := range ws {
		dtos[i] = toWithdrawalDTO(&ws[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	wd, ok := h.load(w, r)
	if !ok {
		return
	}
	RespondSuccess(w, http.StatusOK, toWithdrawalDTO(wd))
}

func (h *WithdrawalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	wd, ok := h.load(w, r)
	if !ok {
		return
	}

	cancelled, err := h.withdrawals.Cancel(r.Context(), wd.ID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("withdrawal cancel refused", "withdrawal_id", wd.ID, "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toWithdrawalDTO(cancelled))
}

// load fetches the {id} withdrawal and checks the caller owns its account.
func (h *WithdrawalHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Withdrawal, bool) {
	id, appErr := pathUUID(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return nil, false
	}

	wd, err := h.withdrawals.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return nil, false
	}
	if _, appErr := authorizeAccount(r.Context(), h.accounts, wd.AccountID); appErr != nil {
		RespondAppError(w, appErr, nil)
		return nil, false
	}
	return wd, true
}
