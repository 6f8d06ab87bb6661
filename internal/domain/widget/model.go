package widget

import (
	"context"
	"time"

	"github.com/yanqian/weathercards/internal/domain/cards"
	"github.com/yanqian/weathercards/internal/domain/weather"
)

// IndexEntry is the widget view of one recipient.
type IndexEntry struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Nickname    string    `json:"nickname,omitempty"`
	City        string    `json:"city"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Index lists every recipient, most recently updated first.
type Index struct {
	Recipients  []IndexEntry `json:"recipients"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

// WeatherEntry is the latest snapshot published for a recipient.
type WeatherEntry struct {
	RecipientID string           `json:"recipientId"`
	Trigger     weather.Trigger  `json:"triggerType"`
	Snapshot    weather.Snapshot `json:"weather"`
	PublishedAt time.Time        `json:"publishedAt"`
}

// CardsEntry is the latest card group published for a recipient.
type CardsEntry struct {
	RecipientID string      `json:"recipientId"`
	Group       cards.Group `json:"group"`
	PublishedAt time.Time   `json:"publishedAt"`
}

// Surface is an external store widgets read from.
type Surface interface {
	Name() string
	PutIndex(ctx context.Context, index Index) error
	PutWeather(ctx context.Context, entry WeatherEntry) error
	PutCards(ctx context.Context, entry CardsEntry) error
}
