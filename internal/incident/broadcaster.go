package incident

import (
	"context"
	"sync"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// Broadcaster delivers incidents to in-process subscribers such as SSE
// streams. Slow subscribers miss incidents rather than block the auditor.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan domain.DriftIncident
	nextID int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan domain.DriftIncident)}
}

// Subscribe returns a channel of incidents and a func that unsubscribes and closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan domain.DriftIncident, func()) {
	ch := make(chan domain.DriftIncident, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(_ context.Context, inc *domain.DriftIncident) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- *inc:
		default:
		}
	}
	return nil
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
