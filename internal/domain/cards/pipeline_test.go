package cards

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/weathercards/internal/domain/recipient"
	"github.com/yanqian/weathercards/internal/domain/weather"
	apperrors "github.com/yanqian/weathercards/pkg/errors"
	"github.com/yanqian/weathercards/pkg/metrics"
)

func TestRefreshGeneratesThenServesFromCache(t *testing.T) {
	env := newPipelineEnv()

	res, err := env.pipeline.Refresh(context.Background(), testRecipient(), Options{})
	require.NoError(t, err)
	require.Equal(t, weather.TriggerRain, res.Trigger)
	require.Equal(t, "g1", res.Group.GroupID)
	require.False(t, res.Group.Meta.Cached)
	require.Len(t, res.Group.Cards, 5)
	require.Equal(t, SourceLLM, res.Group.Cards[0].Source)
	require.EqualValues(t, 1, env.generator.calls.Load())
	require.Len(t, env.generator.requests, 1)
	require.Equal(t, 5, env.generator.requests[0].CardsCount)
	require.Equal(t, 1, env.cache.stores)

	res, err = env.pipeline.Refresh(context.Background(), testRecipient(), Options{})
	require.NoError(t, err)
	require.EqualValues(t, 1, env.generator.calls.Load())
	require.True(t, res.Group.Meta.Cached)
	for _, c := range res.Group.Cards {
		require.Equal(t, SourceCache, c.Source)
	}

	stored, ok, _ := env.cache.Lookup(context.Background(), Key{RecipientID: "r1", Trigger: weather.TriggerRain, Day: "2024-05-01"})
	require.True(t, ok)
	require.False(t, stored.Meta.Cached, "cache hits must not rewrite the stored entry")
	require.Len(t, env.publisher.cards, 2)
	require.Len(t, env.publisher.weather, 2)
}

func TestRefreshCountsTokensWithoutNetwork(t *testing.T) {
	env := newPipelineEnv()
	env.pipeline.tokens = metrics.NewTokenCounter("cl100k_base")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := env.pipeline.Refresh(ctx, testRecipient(), Options{CardsCount: 3})
	require.NoError(t, err)
	require.Len(t, res.Group.Cards, 3)
	require.Positive(t, env.pipeline.tokens.Count(res.Group.Cards[0].Text))
}

func TestRefreshRetriesTransientFailuresWithSameRequest(t *testing.T) {
	env := newPipelineEnv()
	env.generator.failures = []error{
		apperrors.Wrap(apperrors.CodeTransport, "reset", nil),
		apperrors.Wrap(apperrors.CodeServiceUnavailable, "503", nil),
	}

	res, err := env.pipeline.Refresh(context.Background(), testRecipient(), Options{})
	require.NoError(t, err)
	require.Equal(t, "g1", res.Group.GroupID)
	require.EqualValues(t, 3, env.generator.calls.Load())
	ids := env.generator.requestIDs()
	require.Len(t, ids, 3)
	require.Equal(t, ids[0], ids[1])
	require.Equal(t, ids[0], ids[2])
}

func TestRefreshDoesNotRetryPermanentFailures(t *testing.T) {
	for _, code := range []string{apperrors.CodeRequestRejected, apperrors.CodeUnauthenticated, apperrors.CodeMalformedResponse} {
		env := newPipelineEnv()
		env.generator.failures = []error{apperrors.Wrap(code, "nope", nil)}

		res, err := env.pipeline.Refresh(context.Background(), testRecipient(), Options{})
		require.True(t, apperrors.IsCode(err, code), code)
		require.Equal(t, err, res.Err)
		require.EqualValues(t, 1, env.generator.calls.Load())
		require.Zero(t, env.cache.stores)
		require.Empty(t, env.publisher.cards)
	}
}

func TestRefreshGivesUpAfterMaxAttempts(t *testing.T) {
	env := newPipelineEnv()
	for i := 0; i < 5; i++ {
		env.generator.failures = append(env.generator.failures, apperrors.Wrap(apperrors.CodeTransport, "timeout", nil))
	}

	_, err := env.pipeline.Refresh(context.Background(), testRecipient(), Options{})
	require.True(t, apperrors.IsCode(err, apperrors.CodeTransport))
	require.EqualValues(t, 3, env.generator.calls.Load())
}

func TestRefreshFallsBackToRetainedSnapshot(t *testing.T) {
	env := newPipelineEnv()
	env.resolver.err = apperrors.Wrap(apperrors.CodeWeatherUnavailable, "down", nil)

	_, err := env.pipeline.Refresh(context.Background(), testRecipient(), Options{})
	require.True(t, apperrors.IsCode(err, apperrors.CodeWeatherUnavailable))
	require.Zero(t, env.generator.calls.Load())

	env.publisher.latest["r1"] = weather.Snapshot{Condition: weather.ConditionSnow, TemperatureC: -3, CapturedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	res, err := env.pipeline.Refresh(context.Background(), testRecipient(), Options{})
	require.NoError(t, err)
	require.True(t, res.Weather.Stale)
	require.Equal(t, weather.TriggerSnow, res.Trigger)
	require.EqualValues(t, 1, env.generator.calls.Load())
}

func TestRefreshRejectsRecipientWithoutLocation(t *testing.T) {
	env := newPipelineEnv()
	env.resolver.err = apperrors.Wrap(apperrors.CodeInvalidRequest, "sentinel", nil)
	env.publisher.latest["r1"] = testSnapshot()

	_, err := env.pipeline.Refresh(context.Background(), testRecipient(), Options{})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidRequest))
	require.Zero(t, env.generator.calls.Load())
}

func TestConcurrentRefreshesShareOneGeneration(t *testing.T) {
	env := newPipelineEnv()
	env.generator.release = make(chan struct{})

	var wg sync.WaitGroup
	groups := make([]Group, 4)
	errs := make([]error, 4)
	for i := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.pipeline.Refresh(context.Background(), testRecipient(), Options{})
			groups[i], errs[i] = res.Group, err
		}()
	}
	require.Eventually(t, func() bool { return env.generator.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(env.generator.release)
	wg.Wait()

	require.EqualValues(t, 1, env.generator.calls.Load())
	for i, g := range groups {
		require.NoError(t, errs[i])
		require.Equal(t, "g1", g.GroupID)
	}
}

func TestCancelledRefreshStillLandsCacheWrite(t *testing.T) {
	env := newPipelineEnv()
	env.generator.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.pipeline.Refresh(ctx, testRecipient(), Options{})
		done <- err
	}()
	require.Eventually(t, func() bool { return env.generator.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)

	close(env.generator.release)
	require.Eventually(t, func() bool { return env.cache.storeCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRefreshAllIsolatesFailures(t *testing.T) {
	env := newPipelineEnv()
	broken := testRecipient()
	broken.ID = "r2"
	broken.Lat, broken.Lon = 0, 0
	env.recipients.items = []recipient.Recipient{testRecipient(), broken}
	env.resolver.rejectUnset = true

	results, err := env.pipeline.RefreshAll(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.Equal(t, "g1", results[0].Group.GroupID)
	require.True(t, apperrors.IsCode(results[1].Err, apperrors.CodeInvalidRequest))
	require.Len(t, env.publisher.indexes, 1)
}

func TestRefreshByIDUnknownRecipient(t *testing.T) {
	env := newPipelineEnv()

	_, err := env.pipeline.RefreshByID(context.Background(), "missing", Options{})
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestBackoffIsBoundedFullJitter(t *testing.T) {
	env := newPipelineEnv()
	var ceilings []int64
	env.pipeline.jitter = func(n int64) int64 {
		ceilings = append(ceilings, n)
		return n - 1
	}
	env.pipeline.cfg.Retry = RetryPolicy{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}

	require.Equal(t, 100*time.Millisecond, env.pipeline.backoff(1))
	require.Equal(t, 200*time.Millisecond, env.pipeline.backoff(2))
	require.Equal(t, 300*time.Millisecond, env.pipeline.backoff(3))
	require.Equal(t, 300*time.Millisecond, env.pipeline.backoff(6))
	require.Len(t, ceilings, 4)
}

type pipelineEnv struct {
	pipeline   *Pipeline
	resolver   *stubResolver
	cache      *stubCache
	generator  *stubGenerator
	publisher  *stubPublisher
	recipients *stubRecipients
}

func newPipelineEnv() *pipelineEnv {
	env := &pipelineEnv{
		resolver:   &stubResolver{snapshot: testSnapshot()},
		cache:      &stubCache{items: map[Key]Group{}},
		generator:  &stubGenerator{},
		publisher:  &stubPublisher{latest: map[string]weather.Snapshot{}},
		recipients: &stubRecipients{items: []recipient.Recipient{testRecipient()}},
	}
	p := NewPipeline(
		PipelineConfig{
			Concurrency:     2,
			GenerateTimeout: time.Second,
			DefaultLocation: time.UTC,
			Retry:           RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		},
		env.recipients,
		env.resolver,
		newTestBuilder(),
		env.cache,
		env.generator,
		env.publisher,
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	p.now = func() time.Time { return time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC) }
	env.pipeline = p
	return env
}

type stubResolver struct {
	snapshot    weather.Snapshot
	err         error
	rejectUnset bool
}

func (s *stubResolver) Resolve(_ context.Context, loc weather.Location) (weather.Snapshot, error) {
	if s.rejectUnset && !loc.IsSet() {
		return weather.Snapshot{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "sentinel", nil)
	}
	if s.err != nil {
		return weather.Snapshot{}, s.err
	}
	return s.snapshot, nil
}

type stubCache struct {
	mu     sync.Mutex
	items  map[Key]Group
	stores int
}

func (c *stubCache) Lookup(_ context.Context, key Key) (Group, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.items[key]
	return g.Clone(), ok, nil
}

func (c *stubCache) Store(_ context.Context, key Key, group Group) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = group.Clone()
	c.stores++
	return nil
}

func (c *stubCache) storeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stores
}

type stubGenerator struct {
	mu       sync.Mutex
	calls    atomic.Int32
	failures []error
	ids      []string
	requests []Request
	release  chan struct{}
}

func (g *stubGenerator) Generate(ctx context.Context, req Request) (Group, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.ids = append(g.ids, req.RequestID)
	g.requests = append(g.requests, req)
	var err error
	if len(g.failures) > 0 {
		err = g.failures[0]
		g.failures = g.failures[1:]
	}
	g.mu.Unlock()
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return Group{}, errors.New("generation context cancelled")
		}
	}
	if err != nil {
		return Group{}, err
	}
	texts := []string{"带伞", "路上小心", "记得添衣", "早点回家", "多喝热水"}
	group := Group{
		GroupID:     "g1",
		TriggerType: req.Weather.TriggerType,
		Meta:        Meta{Model: "test-model", LatencyMs: 10},
	}
	for i := 0; i < req.CardsCount; i++ {
		group.Cards = append(group.Cards, Card{
			CardID:      fmt.Sprintf("c%d", i+1),
			Text:        texts[i%len(texts)],
			Tone:        req.Tone,
			TriggerType: req.Weather.TriggerType,
			Source:      SourceLLM,
		})
	}
	return group, nil
}

func (g *stubGenerator) requestIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ids...)
}

type stubPublisher struct {
	mu      sync.Mutex
	indexes [][]recipient.Recipient
	weather []weather.Snapshot
	cards   []Group
	latest  map[string]weather.Snapshot
}

func (p *stubPublisher) PublishRecipientsIndex(list []recipient.Recipient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.indexes = append(p.indexes, list)
}

func (p *stubPublisher) PublishWeather(_ recipient.Recipient, snap weather.Snapshot, _ weather.Trigger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weather = append(p.weather, snap)
}

func (p *stubPublisher) PublishCards(_ recipient.Recipient, group Group) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cards = append(p.cards, group)
}

func (p *stubPublisher) LatestWeather(id string) (weather.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.latest[id]
	return snap, ok
}

type stubRecipients struct {
	items []recipient.Recipient
}

func (s *stubRecipients) List(context.Context) ([]recipient.Recipient, error) {
	return s.items, nil
}

func (s *stubRecipients) Get(_ context.Context, id string) (recipient.Recipient, error) {
	for _, r := range s.items {
		if r.ID == id {
			return r, nil
		}
	}
	return recipient.Recipient{}, apperrors.Wrap(apperrors.CodeNotFound, "recipient not found", nil)
}
