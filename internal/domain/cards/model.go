package cards

import (
	"context"
	"fmt"
	"time"

	"github.com/yanqian/weathercards/internal/domain/recipient"
	"github.com/yanqian/weathercards/internal/domain/weather"
)

// Tone is the voice the cards are written in.
type Tone string

const (
	ToneWarm     Tone = "warm"
	ToneCheerful Tone = "cheerful"
	ToneGentle   Tone = "gentle"
	ToneHumorous Tone = "humorous"
	ToneFormal   Tone = "formal"
)

// Valid reports whether t is a known tone.
func (t Tone) Valid() bool {
	switch t {
	case ToneWarm, ToneCheerful, ToneGentle, ToneHumorous, ToneFormal:
		return true
	default:
		return false
	}
}

// Source records where a card's text came from.
type Source string

const (
	SourceLLM      Source = "llm"
	SourceTemplate Source = "template"
	SourceCache    Source = "cache"
)

// Request is the body sent to the card generation endpoint. It is immutable
// once built; retries resend the same value.
type Request struct {
	RequestID   string        `json:"requestId" validate:"required,uuid4"`
	RecipientID string        `json:"-"`
	Locale      string        `json:"locale" validate:"required,bcp47_language_tag"`
	CardsCount  int           `json:"cardsCount" validate:"min=1,max=10"`
	Recipient   RecipientInfo `json:"recipient"`
	Tone        Tone          `json:"tone" validate:"required"`
	City        City          `json:"city"`
	Weather     WeatherInfo   `json:"weather"`
	Constraints Constraints   `json:"constraints"`
}

// RecipientInfo describes who the cards address.
type RecipientInfo struct {
	Nickname     string             `json:"nickname" validate:"required"`
	RelationType recipient.Relation `json:"relationType" validate:"required"`
}

// City locates the recipient.
type City struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat" validate:"latitude"`
	Lon  float64 `json:"lon" validate:"longitude"`
}

// WeatherInfo is the weather context the cards react to.
type WeatherInfo struct {
	TriggerType  weather.Trigger `json:"triggerType" validate:"required"`
	Condition    string          `json:"condition"`
	Temperature  float64         `json:"temperature"`
	FeelsLike    float64         `json:"feelsLike"`
	PrecipChance float64         `json:"precipChance" validate:"min=0,max=1"`
	WindSpeed    float64         `json:"windSpeed"`
	CapturedAt   time.Time       `json:"capturedAt"`
}

// Constraints bound the generated text.
type Constraints struct {
	MaxCharsPerCard int  `json:"maxCharsPerCard" validate:"min=1,max=500"`
	AvoidEmoji      bool `json:"avoidEmoji"`
}

// Options are the caller supplied knobs for one build. Zero values take the
// configured defaults.
type Options struct {
	Locale          string `json:"locale"`
	Tone            Tone   `json:"tone"`
	CardsCount      int    `json:"cardsCount"`
	MaxCharsPerCard int    `json:"maxCharsPerCard"`
	AvoidEmoji      bool   `json:"avoidEmoji"`
}

// Group is one generated set of cards.
type Group struct {
	GroupID     string          `json:"groupId"`
	TriggerType weather.Trigger `json:"triggerType"`
	Cards       []Card          `json:"cards"`
	Meta        Meta            `json:"meta"`
}

// Card is a single message.
type Card struct {
	CardID      string          `json:"cardId"`
	Text        string          `json:"text"`
	Tone        Tone            `json:"tone"`
	TriggerType weather.Trigger `json:"triggerType"`
	Source      Source          `json:"source"`
}

// Meta carries generation details.
type Meta struct {
	Model     string `json:"model"`
	LatencyMs int64  `json:"latencyMs"`
	Cached    bool   `json:"cached"`
}

// Clone returns a copy that shares no slices with g.
func (g Group) Clone() Group {
	out := g
	out.Cards = append([]Card(nil), g.Cards...)
	return out
}

// Texts returns the card texts in order.
func (g Group) Texts() []string {
	texts := make([]string, 0, len(g.Cards))
	for _, c := range g.Cards {
		texts = append(texts, c.Text)
	}
	return texts
}

// Generator calls the remote card generation endpoint.
type Generator interface {
	Generate(ctx context.Context, req Request) (Group, error)
}

// Key identifies one cached card group.
type Key struct {
	RecipientID string
	Trigger     weather.Trigger
	Day         string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.RecipientID, k.Trigger, k.Day)
}
