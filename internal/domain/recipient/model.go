package recipient

import (
	"context"
	"time"

	"github.com/yanqian/weathercards/internal/domain/weather"
)

// Relation describes how the user relates to a recipient.
type Relation string

const (
	RelationFamily    Relation = "family"
	RelationPartner   Relation = "partner"
	RelationFriend    Relation = "friend"
	RelationColleague Relation = "colleague"
	RelationOther     Relation = "other"
)

// Valid reports whether r is a known relation.
func (r Relation) Valid() bool {
	switch r {
	case RelationFamily, RelationPartner, RelationFriend, RelationColleague, RelationOther:
		return true
	default:
		return false
	}
}

// Recipient is a person cards are written for. Coordinates of 0/0 mean the
// location has not been resolved.
type Recipient struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Nickname    string    `json:"nickname,omitempty"`
	Relation    Relation  `json:"relation"`
	Avatar      []byte    `json:"avatar,omitempty"`
	City        string    `json:"city"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	TimeZone    string    `json:"timeZone,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Location returns the recipient coordinates.
func (r Recipient) Location() weather.Location {
	return weather.Location{Lat: r.Lat, Lon: r.Lon}
}

// HasLocation reports whether coordinates have been resolved.
func (r Recipient) HasLocation() bool {
	return r.Location().IsSet()
}

// CardName is the name used when addressing the recipient in a card.
func (r Recipient) CardName() string {
	if r.Nickname != "" {
		return r.Nickname
	}
	return r.DisplayName
}

// Repository persists recipients.
type Repository interface {
	// List returns every recipient, most recently updated first.
	List(ctx context.Context) ([]Recipient, error)
	Get(ctx context.Context, id string) (Recipient, bool, error)
	Save(ctx context.Context, r Recipient) (Recipient, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Place is a geocoding result.
type Place struct {
	DisplayName string  `json:"displayName"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// Geocoder resolves free text to coordinates and back. Implementations return
// a not_found AppError when nothing matches.
type Geocoder interface {
	Forward(ctx context.Context, query string) (Place, error)
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// SaveRequest carries the editable recipient fields.
type SaveRequest struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Nickname    string   `json:"nickname"`
	Relation    Relation `json:"relation"`
	Avatar      []byte   `json:"avatar"`
	City        string   `json:"city"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	TimeZone    string   `json:"timeZone"`
}
