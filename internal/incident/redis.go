package incident

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const (
	DefaultStream = "ledger:drift"
	// streamMaxLen caps the stream; trimming is approximate.
	streamMaxLen = 10_000
)

type RedisPublisher struct {
	client *redis.Client
	stream string
}

func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{client: client, stream: stream}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("NewRedisClient: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("NewRedisClient: ping: %w", err)
	}
	return client, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, inc *domain.DriftIncident) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: StreamValues(inc),
	}).Err()
	if err != nil {
		return fmt.Errorf("RedisPublisher.Publish: %w", err)
	}
	return nil
}

// StreamValues is the flat field list written for one incident.
func StreamValues(inc *domain.DriftIncident) []interface{} {
	return []interface{}{
		"incident_id", inc.ID.String(),
		"account_id", inc.AccountID.String(),
		"kind", string(inc.Kind),
		"currency", string(inc.Currency),
		"cached_balance", strconv.FormatInt(inc.CachedBalance, 10),
		"replayed_balance", strconv.FormatInt(inc.ReplayedBalance, 10),
		"difference", strconv.FormatInt(inc.Difference(), 10),
		"detail", inc.Detail,
		"detected_at", inc.DetectedAt.UTC().Format(time.RFC3339Nano),
	}
}
