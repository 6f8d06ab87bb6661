package cardcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/weathercards/internal/domain/cards"
)

// ValkeyStore persists card groups in a Valkey-compatible database. Retention
// is enforced with key expiry.
type ValkeyStore struct {
	client    valkey.Client
	prefix    string
	retention time.Duration
}

// NewValkeyStore constructs a store backed by Valkey.
func NewValkeyStore(client valkey.Client, prefix string, retention time.Duration) *ValkeyStore {
	if prefix == "" {
		prefix = "cards"
	}
	return &ValkeyStore{client: client, prefix: prefix, retention: retention}
}

// Lookup implements cards.Cache.
func (s *ValkeyStore) Lookup(ctx context.Context, key cards.Key) (cards.Group, bool, error) {
	cmd := s.client.B().Get().Key(s.entryKey(key)).Build()
	payload, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return cards.Group{}, false, nil
		}
		return cards.Group{}, false, err
	}
	var group cards.Group
	if err := json.Unmarshal([]byte(payload), &group); err != nil {
		return cards.Group{}, false, fmt.Errorf("decode cached group: %w", err)
	}
	return group, true, nil
}

// Store implements cards.Cache with a single SET, so replacement is atomic.
func (s *ValkeyStore) Store(ctx context.Context, key cards.Key, group cards.Group) error {
	payload, err := json.Marshal(group)
	if err != nil {
		return err
	}
	builder := s.client.B().Set().Key(s.entryKey(key)).Value(string(payload))
	var cmd valkey.Completed
	if s.retention > 0 {
		ttl := s.retention
		if ttl < time.Second {
			ttl = time.Second
		}
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}
	return s.client.Do(ctx, cmd).Error()
}

func (s *ValkeyStore) entryKey(key cards.Key) string {
	return fmt.Sprintf("%s:%s", s.prefix, key.String())
}

var _ cards.Cache = (*ValkeyStore)(nil)
