package cards

import (
	"context"
	"time"

	"github.com/yanqian/weathercards/internal/domain/recipient"
	"github.com/yanqian/weathercards/internal/domain/weather"
	"github.com/yanqian/weathercards/pkg/util"
)

// Cache stores at most one live group per key. Store replaces atomically.
type Cache interface {
	Lookup(ctx context.Context, key Key) (Group, bool, error)
	Store(ctx context.Context, key Key, group Group) error
}

// KeyFor computes the cache key for a recipient and trigger at instant at.
// The calendar day is taken in the recipient's zone, then the zone reported
// with the snapshot, then fallback.
func KeyFor(rec recipient.Recipient, snap weather.Snapshot, trigger weather.Trigger, at time.Time, fallback *time.Location) Key {
	loc := util.LoadLocation(rec.TimeZone)
	if loc == nil {
		loc = util.LoadLocation(snap.TimeZone)
	}
	if loc == nil {
		loc = fallback
	}
	return Key{RecipientID: rec.ID, Trigger: trigger, Day: util.DayIn(at, loc)}
}

// MarkCached returns a copy of g tagged as served from cache.
func MarkCached(g Group) Group {
	out := g.Clone()
	for i := range out.Cards {
		out.Cards[i].Source = SourceCache
	}
	out.Meta.Cached = true
	return out
}
