package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/lbreg/internal/registration"
)

const (
	// DefaultJournalTTL bounds how long an abandoned journal survives (30 days)
	DefaultJournalTTL = 30 * 24 * time.Hour
)

var _ registration.Journal = (*Journal)(nil)

// Journal stores the registrations of one instance in one upstream group as
// a Redis hash: field = control-plane endpoint, value = JSON registration.
type Journal struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewJournal creates a journal scoped to upstream and instance
func NewJournal(client *redis.Client, upstream, instance string) *Journal {
	return &Journal{
		client: client,
		key:    JournalKey(upstream, instance),
		ttl:    DefaultJournalTTL,
	}
}

// Key returns the Redis key backing this journal
func (j *Journal) Key() string {
	return j.key
}

// Record stores reg, replacing any previous entry for the same endpoint
func (j *Journal) Record(ctx context.Context, reg registration.Registration) error {
	data, err := encodeRegistration(reg)
	if err != nil {
		return err
	}

	pipe := j.client.TxPipeline()
	pipe.HSet(ctx, j.key, reg.Endpoint, data)
	pipe.Expire(ctx, j.key, j.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record registration: %w", err)
	}
	return nil
}

// Forget removes the entry of endpoint
func (j *Journal) Forget(ctx context.Context, endpoint string) error {
	if err := j.client.HDel(ctx, j.key, endpoint).Err(); err != nil {
		return fmt.Errorf("failed to forget registration: %w", err)
	}
	return nil
}

// Entries returns every recorded registration, ordered by endpoint
func (j *Journal) Entries(ctx context.Context) ([]registration.Registration, error) {
	raw, err := j.client.HGetAll(ctx, j.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return decodeEntries(raw), nil
}

func encodeRegistration(reg registration.Registration) ([]byte, error) {
	data, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration: %w", err)
	}
	return data, nil
}

// decodeEntries skips values that cannot be decoded; the endpoint field wins
// over whatever endpoint the value claims.
func decodeEntries(raw map[string]string) []registration.Registration {
	entries := make([]registration.Registration, 0, len(raw))
	for endpoint, value := range raw {
		var reg registration.Registration
		if err := json.Unmarshal([]byte(value), &reg); err != nil {
			continue
		}
		reg.Endpoint = endpoint
		entries = append(entries, reg)
	}

	sort.Slice(entries, func(a, b int) bool {
		return entries[a].Endpoint < entries[b].Endpoint
	})
	return entries
}
