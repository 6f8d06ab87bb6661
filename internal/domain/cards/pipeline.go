package cards

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/yanqian/weathercards/internal/domain/recipient"
	"github.com/yanqian/weathercards/internal/domain/weather"
	apperrors "github.com/yanqian/weathercards/pkg/errors"
	"github.com/yanqian/weathercards/pkg/metrics"
)

// Publisher receives pipeline output for external surfaces. Calls must not
// block.
type Publisher interface {
	PublishRecipientsIndex(recipients []recipient.Recipient)
	PublishWeather(rec recipient.Recipient, snap weather.Snapshot, trigger weather.Trigger)
	PublishCards(rec recipient.Recipient, group Group)
	LatestWeather(recipientID string) (weather.Snapshot, bool)
}

// RecipientSource lists the recipients the pipeline refreshes.
type RecipientSource interface {
	List(ctx context.Context) ([]recipient.Recipient, error)
	Get(ctx context.Context, id string) (recipient.Recipient, error)
}

// RetryPolicy bounds retries of transient generation failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// PipelineConfig controls refresh orchestration.
type PipelineConfig struct {
	Concurrency     int
	GenerateTimeout time.Duration
	DefaultLocation *time.Location
	Retry           RetryPolicy
}

// Result is the outcome of refreshing one recipient.
type Result struct {
	RecipientID string           `json:"recipientId"`
	Trigger     weather.Trigger  `json:"triggerType,omitempty"`
	Weather     weather.Snapshot `json:"weather"`
	Group       Group            `json:"group"`
	Err         error            `json:"-"`
}

// Pipeline drives weather resolution, trigger selection, caching, generation
// and publishing for recipients.
type Pipeline struct {
	cfg        PipelineConfig
	recipients RecipientSource
	resolver   weather.Resolver
	builder    *Builder
	cache      Cache
	generator  Generator
	publisher  Publisher
	tokens     *metrics.TokenCounter
	logger     *slog.Logger
	inflight   singleflight.Group
	now        func() time.Time
	jitter     func(n int64) int64
}

// NewPipeline wires the card pipeline.
func NewPipeline(
	cfg PipelineConfig,
	recipients RecipientSource,
	resolver weather.Resolver,
	builder *Builder,
	cache Cache,
	generator Generator,
	publisher Publisher,
	tokens *metrics.TokenCounter,
	logger *slog.Logger,
) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 12 * time.Second
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	return &Pipeline{
		cfg:        cfg,
		recipients: recipients,
		resolver:   resolver,
		builder:    builder,
		cache:      cache,
		generator:  generator,
		publisher:  publisher,
		tokens:     tokens,
		logger:     logger.With("component", "cards.pipeline"),
		now:        time.Now,
		jitter:     rand.Int64N,
	}
}

// RefreshByID refreshes a single stored recipient.
func (p *Pipeline) RefreshByID(ctx context.Context, recipientID string, opts Options) (Result, error) {
	rec, err := p.recipients.Get(ctx, recipientID)
	if err != nil {
		return Result{RecipientID: recipientID, Err: err}, err
	}
	return p.Refresh(ctx, rec, opts)
}

// RefreshAll refreshes every recipient with bounded concurrency. A failure for
// one recipient is recorded in its Result and never aborts the others.
func (p *Pipeline) RefreshAll(ctx context.Context, opts Options) ([]Result, error) {
	list, err := p.recipients.List(ctx)
	if err != nil {
		return nil, err
	}
	p.publisher.PublishRecipientsIndex(list)

	results := make([]Result, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, rec := range list {
		g.Go(func() error {
			res, err := p.Refresh(gctx, rec, opts)
			if err != nil {
				p.logger.Warn("recipient refresh failed", "recipient_id", rec.ID, "kind", apperrors.CodeOf(err), "error", err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	p.logger.Info("refresh all completed", "recipients", len(list), "failed", failed)
	return results, nil
}

// Refresh runs the full pipeline for one recipient. The terminal outcome is a
// card group or exactly one error kind.
func (p *Pipeline) Refresh(ctx context.Context, rec recipient.Recipient, opts Options) (Result, error) {
	res := Result{RecipientID: rec.ID}
	fail := func(err error) (Result, error) {
		res.Err = err
		return res, err
	}

	snap, err := p.resolveWeather(ctx, rec)
	if err != nil {
		return fail(err)
	}
	trigger := weather.ResolveTrigger(snap)
	res.Weather, res.Trigger = snap, trigger
	p.publisher.PublishWeather(rec, snap, trigger)

	key := KeyFor(rec, snap, trigger, p.now(), p.cfg.DefaultLocation)
	if group, ok := p.lookup(ctx, key); ok {
		res.Group = group
		p.publisher.PublishCards(rec, group)
		return res, nil
	}

	req, err := p.builder.Build(rec, snap, trigger, opts)
	if err != nil {
		return fail(err)
	}

	// Generation is detached from the caller so a superseded refresh still
	// lands its cache write.
	ch := p.inflight.DoChan(key.String(), func() (any, error) {
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.GenerateTimeout)
		defer cancel()
		return p.generateAndStore(genCtx, key, req)
	})

	select {
	case <-ctx.Done():
		return fail(apperrors.Wrap(apperrors.CodeTransport, "refresh abandoned by caller", ctx.Err()))
	case out := <-ch:
		if out.Err != nil {
			return fail(out.Err)
		}
		group := out.Val.(Group).Clone()
		if out.Shared {
			p.logger.Debug("generation shared", "recipient_id", rec.ID, "key", key.String())
		}
		res.Group = group
		p.publisher.PublishCards(rec, group)
		return res, nil
	}
}

func (p *Pipeline) resolveWeather(ctx context.Context, rec recipient.Recipient) (weather.Snapshot, error) {
	snap, err := p.resolver.Resolve(ctx, rec.Location())
	if err == nil {
		return snap, nil
	}
	if !apperrors.IsCode(err, apperrors.CodeWeatherUnavailable) {
		return weather.Snapshot{}, err
	}
	retained, ok := p.publisher.LatestWeather(rec.ID)
	if !ok {
		return weather.Snapshot{}, err
	}
	p.logger.Warn("using retained weather snapshot", "recipient_id", rec.ID, "captured_at", retained.CapturedAt, "error", err)
	retained.Stale = true
	return retained, nil
}

func (p *Pipeline) lookup(ctx context.Context, key Key) (Group, bool) {
	group, ok, err := p.cache.Lookup(ctx, key)
	if err != nil {
		p.logger.Warn("card cache lookup failed", "key", key.String(), "error", err)
		return Group{}, false
	}
	if !ok {
		return Group{}, false
	}
	p.logger.Debug("card cache hit", "key", key.String())
	return MarkCached(group), true
}

func (p *Pipeline) generateAndStore(ctx context.Context, key Key, req Request) (Group, error) {
	group, err := p.generate(ctx, req)
	if err != nil {
		return Group{}, err
	}
	if err := p.cache.Store(ctx, key, group); err != nil {
		p.logger.Warn("card cache store failed", "key", key.String(), "error", err)
	}
	usage := p.tokens.Completion(group.Texts())
	p.logger.Info("card group generated",
		"recipient_id", req.RecipientID,
		"request_id", req.RequestID,
		"trigger", group.TriggerType,
		"cards", len(group.Cards),
		"model", group.Meta.Model,
		"latency_ms", group.Meta.LatencyMs,
		"completion_tokens", usage.CompletionTokens,
	)
	return group, nil
}

// generate sends req, repeating the identical request on transport and
// service failures so the server can deduplicate by request id.
func (p *Pipeline) generate(ctx context.Context, req Request) (Group, error) {
	for attempt := 1; ; attempt++ {
		group, err := p.generator.Generate(ctx, req)
		if err == nil {
			return group, nil
		}
		code := apperrors.CodeOf(err)
		if (code != apperrors.CodeTransport && code != apperrors.CodeServiceUnavailable) || attempt >= p.cfg.Retry.MaxAttempts {
			return Group{}, err
		}
		wait := p.backoff(attempt)
		p.logger.Warn("card generation failed, retrying",
			"request_id", req.RequestID,
			"attempt", attempt,
			"kind", code,
			"wait", wait,
			"error", err,
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Group{}, err
		case <-timer.C:
		}
	}
}

// backoff returns a full-jitter delay in [0, min(MaxBackoff, BaseBackoff*2^(attempt-1))].
func (p *Pipeline) backoff(attempt int) time.Duration {
	ceiling := float64(p.cfg.Retry.BaseBackoff) * math.Pow(2, float64(attempt-1))
	if limit := float64(p.cfg.Retry.MaxBackoff); limit > 0 && ceiling > limit {
		ceiling = limit
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(p.jitter(int64(ceiling) + 1))
}
