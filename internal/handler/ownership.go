package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type accountGetter interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, *AppError) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, ErrResourceNotFound
	}
	return id, nil
}

// authorizeAccount loads the account and checks the caller may see it.
// Accounts owned by someone else are reported as missing.
func authorizeAccount(ctx context.Context, accounts accountGetter, accountID uuid.UUID) (*domain.Account, *AppError) {
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		return nil, ErrMissingToken
	}

	account, err := accounts.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrResourceNotFound
		}
		logging.FromContext(ctx).Error("failed to load account", "account_id", accountID, "error", err)
		return nil, ErrInternalError
	}

	if !claims.CanAccess(account.OwnerID) {
		return nil, ErrResourceNotFound
	}
	return account, nil
}

// accountFromPath resolves the {id} path value to an account the caller may see.
func accountFromPath(r *http.Request, accounts accountGetter) (*domain.Account, *AppError) {
	id, appErr := pathUUID(r, "id")
	if appErr != nil {
		return nil, appErr
	}
	return authorizeAccount(r.Context(), accounts, id)
}
