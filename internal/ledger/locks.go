package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/metrics"
)

// LockTable hands out one serialization token per account. The table mutex is
// only held to look up or release a token, never while waiting for one.
type LockTable struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]*accountToken
}

type accountToken struct {
	ch   chan struct{}
	refs int
}

func NewLockTable() *LockTable {
	return &LockTable{tokens: make(map[uuid.UUID]*accountToken)}
}

// Acquire blocks until the caller holds the account's token or ctx is done.
// The returned func releases the token and must be called exactly once.
func (t *LockTable) Acquire(ctx context.Context, accountID uuid.UUID) (func(), error) {
	t.mu.Lock()
	tok, ok := t.tokens[accountID]
	if !ok {
		tok = &accountToken{ch: make(chan struct{}, 1)}
		t.tokens[accountID] = tok
	}
	tok.refs++
	t.mu.Unlock()

	start := time.Now()
	select {
	case tok.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(accountID, tok, false)
		return nil, ctx.Err()
	}
	metrics.LockWait.Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() { t.release(accountID, tok, true) })
	}, nil
}

func (t *LockTable) release(accountID uuid.UUID, tok *accountToken, held bool) {
	if held {
		<-tok.ch
	}
	t.mu.Lock()
	tok.refs--
	if tok.refs == 0 {
		delete(t.tokens, accountID)
	}
	t.mu.Unlock()
}

// Len is the number of accounts with a holder or waiter.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tokens)
}
