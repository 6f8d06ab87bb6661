package cardcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/weathercards/internal/domain/cards"
	"github.com/yanqian/weathercards/internal/domain/weather"
)

func TestMemoryStoreReplacesPerKey(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	key := cards.Key{RecipientID: "r1", Trigger: weather.TriggerRain, Day: "2024-05-01"}

	_, ok, err := store.Lookup(context.Background(), key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Store(context.Background(), key, cards.Group{GroupID: "first"}))
	require.NoError(t, store.Store(context.Background(), key, cards.Group{GroupID: "second"}))

	got, ok, err := store.Lookup(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", got.GroupID)
	require.Equal(t, 1, store.Len())

	other := key
	other.Day = "2024-05-02"
	_, ok, _ = store.Lookup(context.Background(), other)
	require.False(t, ok)
}

func TestMemoryStoreExpiresAfterRetention(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(7 * 24 * time.Hour)
	store.now = func() time.Time { return now }
	key := cards.Key{RecipientID: "r1", Trigger: weather.TriggerClear, Day: "2024-05-01"}
	require.NoError(t, store.Store(context.Background(), key, cards.Group{GroupID: "g"}))

	now = now.Add(6 * 24 * time.Hour)
	_, ok, _ := store.Lookup(context.Background(), key)
	require.True(t, ok)

	now = now.Add(2 * 24 * time.Hour)
	_, ok, _ = store.Lookup(context.Background(), key)
	require.False(t, ok)
	require.Zero(t, store.Len())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	key := cards.Key{RecipientID: "r1", Trigger: weather.TriggerHeat, Day: "2024-05-01"}
	require.NoError(t, store.Store(context.Background(), key, cards.Group{GroupID: "g", Cards: []cards.Card{{CardID: "c", Text: "hot", Source: cards.SourceLLM}}}))

	got, _, _ := store.Lookup(context.Background(), key)
	got.Cards[0].Source = cards.SourceCache

	again, _, _ := store.Lookup(context.Background(), key)
	require.Equal(t, cards.SourceLLM, again.Cards[0].Source)
}

func TestValkeyEntryKey(t *testing.T) {
	store := NewValkeyStore(nil, "", time.Hour)
	key := cards.Key{RecipientID: "r1", Trigger: weather.TriggerSnow, Day: "2024-12-24"}
	require.Equal(t, "cards:r1:snow:2024-12-24", store.entryKey(key))
}
