package widget

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/yanqian/weathercards/internal/domain/cards"
	"github.com/yanqian/weathercards/internal/domain/recipient"
	"github.com/yanqian/weathercards/internal/domain/weather"
)

// Config controls publishing.
type Config struct {
	Timeout time.Duration
}

// Publisher pushes recipient, weather and card snapshots to every surface.
// Publishing happens in background goroutines and never reports errors to
// the caller.
type Publisher struct {
	cfg      Config
	surfaces []Surface
	logger   *slog.Logger
	now      func() time.Time

	wg     sync.WaitGroup
	sendMu sync.Mutex
	seq    map[string]uint64
	sent   map[string]uint64
	topics map[string]*sync.Mutex

	mu     sync.RWMutex
	latest map[string]weather.Snapshot
}

var _ cards.Publisher = (*Publisher)(nil)

// NewPublisher constructs a publisher over the provided surfaces.
func NewPublisher(cfg Config, surfaces []Surface, logger *slog.Logger) *Publisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Publisher{
		cfg:      cfg,
		surfaces: surfaces,
		logger:   logger.With("component", "widget.publisher"),
		now:      time.Now,
		seq:      make(map[string]uint64),
		sent:     make(map[string]uint64),
		topics:   make(map[string]*sync.Mutex),
		latest:   make(map[string]weather.Snapshot),
	}
}

// PublishRecipientsIndex publishes the full recipient list.
func (p *Publisher) PublishRecipientsIndex(list []recipient.Recipient) {
	p.dispatch("index", func(ctx context.Context, s Surface) error {
		return s.PutIndex(ctx, p.buildIndex(list))
	})
}

// PublishWeather publishes and retains the latest snapshot for rec.
// Recipients without coordinates are skipped.
func (p *Publisher) PublishWeather(rec recipient.Recipient, snap weather.Snapshot, trigger weather.Trigger) {
	if !rec.HasLocation() {
		p.logger.Debug("skipping weather publish without location", "recipient_id", rec.ID)
		return
	}
	p.mu.Lock()
	p.latest[rec.ID] = snap
	p.mu.Unlock()

	entry := WeatherEntry{RecipientID: rec.ID, Trigger: trigger, Snapshot: snap, PublishedAt: p.now().UTC()}
	p.dispatch("weather:"+rec.ID, func(ctx context.Context, s Surface) error {
		return s.PutWeather(ctx, entry)
	})
}

// PublishCards publishes the latest card group for rec.
func (p *Publisher) PublishCards(rec recipient.Recipient, group cards.Group) {
	if !rec.HasLocation() {
		return
	}
	entry := CardsEntry{RecipientID: rec.ID, Group: group.Clone(), PublishedAt: p.now().UTC()}
	p.dispatch("cards:"+rec.ID, func(ctx context.Context, s Surface) error {
		return s.PutCards(ctx, entry)
	})
}

// LatestWeather returns the last snapshot published for a recipient.
func (p *Publisher) LatestWeather(recipientID string) (weather.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap, ok := p.latest[recipientID]
	return snap, ok
}

// Forget drops the retained snapshot and publish state of a deleted
// recipient. Sends still pending for it are discarded.
func (p *Publisher) Forget(recipientID string) {
	p.mu.Lock()
	delete(p.latest, recipientID)
	p.mu.Unlock()

	p.sendMu.Lock()
	for _, topic := range []string{"weather:" + recipientID, "cards:" + recipientID} {
		delete(p.seq, topic)
		delete(p.sent, topic)
		delete(p.topics, topic)
	}
	p.sendMu.Unlock()
}

// Flush blocks until every pending publish has finished.
func (p *Publisher) Flush() {
	p.wg.Wait()
}

// dispatch runs send against every surface in the background. Sends for the
// same topic never overwrite a newer payload with an older one.
func (p *Publisher) dispatch(topic string, send func(ctx context.Context, s Surface) error) {
	if len(p.surfaces) == 0 {
		return
	}
	p.sendMu.Lock()
	p.seq[topic]++
	version := p.seq[topic]
	lock, ok := p.topics[topic]
	if !ok {
		lock = &sync.Mutex{}
		p.topics[topic] = lock
	}
	p.sendMu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		lock.Lock()
		defer lock.Unlock()

		p.sendMu.Lock()
		_, live := p.seq[topic]
		stale := !live || version < p.sent[topic]
		if !stale {
			p.sent[topic] = version
		}
		p.sendMu.Unlock()
		if stale {
			p.logger.Debug("dropping superseded publish", "topic", topic)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		defer cancel()
		for _, s := range p.surfaces {
			if err := send(ctx, s); err != nil {
				p.logger.Warn("widget publish failed", "surface", s.Name(), "topic", topic, "error", err)
			}
		}
	}()
}

func (p *Publisher) buildIndex(list []recipient.Recipient) Index {
	sorted := append([]recipient.Recipient(nil), list...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].UpdatedAt.Equal(sorted[j].UpdatedAt) {
			return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	entries := make([]IndexEntry, 0, len(sorted))
	for _, r := range sorted {
		entries = append(entries, IndexEntry{
			ID:          r.ID,
			DisplayName: r.DisplayName,
			Nickname:    r.Nickname,
			City:        r.City,
			Lat:         r.Lat,
			Lon:         r.Lon,
			UpdatedAt:   r.UpdatedAt,
		})
	}
	return Index{Recipients: entries, GeneratedAt: p.now().UTC()}
}
