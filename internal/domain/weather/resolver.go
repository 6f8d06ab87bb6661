package weather

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/yanqian/weathercards/pkg/errors"
)

// Provider fetches current conditions from an upstream weather service.
type Provider interface {
	Current(ctx context.Context, loc Location) (Snapshot, error)
}

// Resolver produces a normalized snapshot for a location. It performs a
// single attempt; retry policy belongs to the caller.
type Resolver interface {
	Resolve(ctx context.Context, loc Location) (Snapshot, error)
}

// Config holds resolver knobs.
type Config struct {
	Timeout time.Duration
}

type resolver struct {
	cfg      Config
	provider Provider
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolver wires the snapshot resolver around a provider.
func NewResolver(cfg Config, provider Provider, logger *slog.Logger) Resolver {
	return &resolver{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With("component", "weather.resolver"),
		now:      time.Now,
	}
}

func (r *resolver) Resolve(ctx context.Context, loc Location) (Snapshot, error) {
	if !loc.Valid() {
		return Snapshot{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "location must have valid non-zero coordinates", nil)
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	snapshot, err := r.provider.Current(ctx, loc)
	if err != nil {
		r.logger.Warn("weather provider failed", "lat", loc.Lat, "lon", loc.Lon, "error", err)
		return Snapshot{}, apperrors.Wrap(apperrors.CodeWeatherUnavailable, "weather provider unavailable", err)
	}
	if snapshot.Condition == "" {
		snapshot.Condition = ConditionUnknown
	}
	if snapshot.CapturedAt.IsZero() {
		snapshot.CapturedAt = r.now().UTC()
	}
	snapshot.Stale = false
	return snapshot, nil
}
