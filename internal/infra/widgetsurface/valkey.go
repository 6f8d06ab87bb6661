package widgetsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/weathercards/internal/domain/widget"
)

// ValkeySurface writes widget snapshots as JSON keys and announces each
// update on a pub/sub channel.
type ValkeySurface struct {
	client valkey.Client
	prefix string
	logger *slog.Logger
}

// NewValkeySurface constructs a surface backed by Valkey.
func NewValkeySurface(client valkey.Client, prefix string, logger *slog.Logger) *ValkeySurface {
	if prefix == "" {
		prefix = "widget"
	}
	return &ValkeySurface{client: client, prefix: prefix, logger: logger.With("component", "widgetsurface.valkey")}
}

func (s *ValkeySurface) Name() string { return "valkey" }

func (s *ValkeySurface) PutIndex(ctx context.Context, index widget.Index) error {
	return s.put(ctx, s.indexKey(), index)
}

func (s *ValkeySurface) PutWeather(ctx context.Context, entry widget.WeatherEntry) error {
	return s.put(ctx, s.weatherKey(entry.RecipientID), entry)
}

func (s *ValkeySurface) PutCards(ctx context.Context, entry widget.CardsEntry) error {
	return s.put(ctx, s.cardsKey(entry.RecipientID), entry)
}

func (s *ValkeySurface) put(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(payload)).Build()).Error(); err != nil {
		return err
	}
	// Subscribers re-read the key; a lost notification is repaired by the next one.
	if err := s.client.Do(ctx, s.client.B().Publish().Channel(s.channel()).Message(key).Build()).Error(); err != nil {
		s.logger.Warn("widget update notification failed", "key", key, "error", err)
	}
	return nil
}

func (s *ValkeySurface) indexKey() string {
	return fmt.Sprintf("%s:index", s.prefix)
}

func (s *ValkeySurface) weatherKey(recipientID string) string {
	return fmt.Sprintf("%s:weather:%s", s.prefix, recipientID)
}

func (s *ValkeySurface) cardsKey(recipientID string) string {
	return fmt.Sprintf("%s:cards:%s", s.prefix, recipientID)
}

func (s *ValkeySurface) channel() string {
	return fmt.Sprintf("%s:updates", s.prefix)
}

var _ widget.Surface = (*ValkeySurface)(nil)
