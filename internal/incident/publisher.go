package incident

import (
	"context"
	"errors"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// Publisher fans drift incidents out to whoever needs to react to them.
type Publisher interface {
	Publish(ctx context.Context, inc *domain.DriftIncident) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, inc *domain.DriftIncident) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, inc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
