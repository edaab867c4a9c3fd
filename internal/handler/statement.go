package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type statementService interface {
	GetStatement(ctx context.Context, id uuid.UUID) (*domain.Statement, error)
	ListStatements(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]domain.Statement, error)
}

type StatementHandler struct {
	statements statementService
	accounts   accountGetter
}

func NewStatementHandler(statements statementService, accounts accountGetter) *StatementHandler {
	return &StatementHandler{statements: statements, accounts: accounts}
}

// List takes RFC 3339 from and to. Both default to a window ending now that
// covers the last year.
func (h *StatementHandler) List(w http.ResponseWriter, r *http.Request) {
	account, appErr := accountFromPath(r, h.accounts)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(-1, 0, 0)
	var fields []FieldError
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fields = append(fields, FieldError{Field: "from", Message: "must be an RFC 3339 timestamp"})
		}
		from = t.UTC()
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fields = append(fields, FieldError{Field: "to", Message: "must be an RFC 3339 timestamp"})
		}
		to = t.UTC()
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	stmts, err := h.statements.ListStatements(r.Context(), account.ID, from, to)
	if err != nil {
		logging.FromContext(r.Context()).Warn("failed to list statements", "account_id", account.ID, "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]statementDTO, len(stmts))
	for i := range stmts {
		dtos[i] = toStatementDTO(&stmts[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *StatementHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, appErr := pathUUID(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	stmt, err := h.statements.GetStatement(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if _, appErr := authorizeAccount(r.Context(), h.accounts, stmt.AccountID); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	RespondSuccess(w, http.StatusOK, toStatementDTO(stmt))
}
