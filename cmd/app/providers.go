package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/weathercards/internal/domain/cards"
	"github.com/yanqian/weathercards/internal/domain/recipient"
	"github.com/yanqian/weathercards/internal/domain/weather"
	"github.com/yanqian/weathercards/internal/domain/widget"
	"github.com/yanqian/weathercards/internal/infra/cardapi"
	"github.com/yanqian/weathercards/internal/infra/cardcache"
	"github.com/yanqian/weathercards/internal/infra/config"
	"github.com/yanqian/weathercards/internal/infra/geocode/nominatim"
	"github.com/yanqian/weathercards/internal/infra/recipientrepo"
	"github.com/yanqian/weathercards/internal/infra/session"
	"github.com/yanqian/weathercards/internal/infra/weather/openmeteo"
	"github.com/yanqian/weathercards/internal/infra/widgetsurface"
	"github.com/yanqian/weathercards/pkg/metrics"
	"github.com/yanqian/weathercards/pkg/util"
)

func provideWeatherConfig(cfg *config.Config) weather.Config {
	return weather.Config{Timeout: cfg.Weather.Timeout}
}

func provideOpenMeteoClient(cfg *config.Config) *openmeteo.Client {
	return openmeteo.NewClient(openmeteo.Config{
		BaseURL: cfg.Weather.BaseURL,
		Timeout: cfg.Weather.Timeout,
	})
}

func provideGeocoder(cfg *config.Config) *nominatim.Client {
	return nominatim.NewClient(nominatim.Config{
		BaseURL:   cfg.Geocoding.BaseURL,
		UserAgent: cfg.Geocoding.UserAgent,
		Language:  cfg.Geocoding.Language,
		Timeout:   cfg.Geocoding.Timeout,
	})
}

func provideBuilderConfig(cfg *config.Config) cards.BuilderConfig {
	return cards.BuilderConfig{
		DefaultLocale:   cfg.Cards.DefaultLocale,
		DefaultTone:     cards.Tone(cfg.Cards.DefaultTone),
		DefaultCount:    cfg.Cards.DefaultCount,
		DefaultMaxChars: cfg.Cards.DefaultMaxChars,
	}
}

func providePipelineConfig(cfg *config.Config, logger *slog.Logger) cards.PipelineConfig {
	loc := util.LoadLocation(cfg.Pipeline.DefaultTimeZone)
	if loc == nil {
		logger.Warn("unknown default time zone, using UTC", "zone", cfg.Pipeline.DefaultTimeZone)
		loc = time.UTC
	}
	return cards.PipelineConfig{
		Concurrency:     cfg.Pipeline.Concurrency,
		GenerateTimeout: cfg.Pipeline.GenerateTimeout,
		DefaultLocation: loc,
		Retry: cards.RetryPolicy{
			MaxAttempts: cfg.Pipeline.Retry.MaxAttempts,
			BaseBackoff: cfg.Pipeline.Retry.BaseBackoff,
			MaxBackoff:  cfg.Pipeline.Retry.MaxBackoff,
		},
	}
}

func provideTokenCounter(cfg *config.Config, logger *slog.Logger) *metrics.TokenCounter {
	counter := metrics.NewTokenCounter(cfg.Cards.TokenEncoding)
	if !counter.Warm() {
		logger.Warn("token encoding unavailable, using estimates", "encoding", cfg.Cards.TokenEncoding)
	}
	return counter
}

func provideSessionManager(cfg *config.Config, logger *slog.Logger) (cardapi.SessionManager, error) {
	switch cfg.Session.Mode {
	case "oauth2":
		var store *session.FileStore
		if cfg.Session.FilePath != "" && len(cfg.Session.FileKey) == 32 {
			s, err := session.NewFileStore(cfg.Session.FilePath, []byte(cfg.Session.FileKey))
			if err != nil {
				return nil, err
			}
			store = s
		}
		logger.Info("card api session uses client credentials", "token_url", cfg.Session.TokenURL, "persisted", store != nil)
		return session.NewOAuth2Source(session.OAuth2Config{
			TokenURL:     cfg.Session.TokenURL,
			ClientID:     cfg.Session.ClientID,
			ClientSecret: cfg.Session.ClientSecret,
			Scopes:       cfg.Session.Scopes,
			Timeout:      cfg.CardAPI.Timeout,
		}, store, logger), nil
	case "file":
		logger.Info("card api session read from encrypted file", "path", cfg.Session.FilePath)
		return session.NewFileStore(cfg.Session.FilePath, []byte(cfg.Session.FileKey))
	default:
		return session.NewStaticSource(cfg.Session.Token), nil
	}
}

func provideCardAPIClient(cfg *config.Config, sessions cardapi.SessionManager, logger *slog.Logger) (*cardapi.Client, error) {
	deviceID := strings.TrimSpace(cfg.CardAPI.DeviceID)
	if deviceID == "" {
		id, err := cardapi.LoadDeviceID(cfg.CardAPI.DeviceIDFile)
		if err != nil {
			return nil, err
		}
		deviceID = id
	}
	return cardapi.NewClient(cardapi.Config{
		BaseURL:     cfg.CardAPI.BaseURL,
		Timeout:     cfg.CardAPI.Timeout,
		DeviceID:    deviceID,
		MaxFailures: cfg.CardAPI.Breaker.MaxFailures,
		OpenTimeout: cfg.CardAPI.Breaker.OpenTimeout,
	}, sessions, logger)
}

func provideRecipientRepository(cfg *config.Config, logger *slog.Logger) recipient.Repository {
	fallback := recipientrepo.NewMemoryRepository()
	dsn := strings.TrimSpace(cfg.Recipients.Postgres.DSN)
	if dsn == "" {
		logger.Info("recipients postgres dsn not set, using memory repository")
		return fallback
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("invalid postgres dsn, using memory repository", "error", err)
		return fallback
	}
	if cfg.Recipients.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Recipients.Postgres.MaxConns
	}
	if cfg.Recipients.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Recipients.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize postgres pool, using memory repository", "error", err)
		return fallback
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres ping failed, using memory repository", "error", err)
		pool.Close()
		return fallback
	}
	logger.Info("recipients postgres repository enabled")
	return recipientrepo.NewPostgresRepository(pool)
}

func provideCardCache(cfg *config.Config, logger *slog.Logger) cards.Cache {
	if cfg.Cache.Backend == "valkey" {
		client, err := connectValkey(cfg.Cache.Addr)
		if err != nil {
			logger.Error("card cache valkey unavailable, falling back to memory store", "error", err)
		} else {
			logger.Info("card cache valkey store enabled", "addr", cfg.Cache.Addr)
			return cardcache.NewValkeyStore(client, cfg.Cache.Prefix, cfg.Cache.Retention)
		}
	}
	return cardcache.NewMemoryStore(cfg.Cache.Retention)
}

func provideSurfaces(cfg *config.Config, memory *widgetsurface.MemorySurface, logger *slog.Logger) []widget.Surface {
	surfaces := []widget.Surface{memory}

	if cfg.Widget.Valkey.Enabled {
		client, err := connectValkey(cfg.Widget.Valkey.Addr)
		if err != nil {
			logger.Error("widget valkey surface disabled", "error", err)
		} else {
			surfaces = append(surfaces, widgetsurface.NewValkeySurface(client, cfg.Widget.Valkey.Prefix, logger))
		}
	}

	if cfg.Widget.Object.Enabled {
		object, err := widgetsurface.NewObjectSurface(widgetsurface.ObjectConfig{
			Endpoint:  cfg.Widget.Object.Endpoint,
			AccessKey: cfg.Widget.Object.AccessKey,
			SecretKey: cfg.Widget.Object.SecretKey,
			Bucket:    cfg.Widget.Object.Bucket,
			Region:    cfg.Widget.Object.Region,
		}, logger)
		if err != nil {
			logger.Error("widget object surface disabled", "error", err)
		} else {
			surfaces = append(surfaces, object)
		}
	}

	if cfg.Widget.FCM.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		notifier, err := widgetsurface.NewFCMNotifier(ctx, cfg.Widget.FCM.CredentialsFile, cfg.Widget.FCM.Topic, logger)
		if err != nil {
			logger.Error("widget fcm notifier disabled", "error", err)
		} else {
			surfaces = append(surfaces, notifier)
		}
	}

	names := make([]string, 0, len(surfaces))
	for _, s := range surfaces {
		names = append(names, s.Name())
	}
	logger.Info("widget surfaces configured", "surfaces", names)
	return surfaces
}

func provideWidgetConfig(cfg *config.Config) widget.Config {
	return widget.Config{Timeout: cfg.Widget.PublishTimeout}
}

// provideWidgetPublisher keeps the widget index in step with recipient edits
// for the lifetime of the process.
func provideWidgetPublisher(cfg widget.Config, surfaces []widget.Surface, hub *recipient.Hub, recipients recipient.Service, logger *slog.Logger) *widget.Publisher {
	publisher := widget.NewPublisher(cfg, surfaces, logger)
	publisher.Follow(hub, recipients)
	return publisher
}

func connectValkey(addr string) (valkey.Client, error) {
	opt, err := buildValkeyOptions(addr)
	if err != nil {
		return nil, err
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}
