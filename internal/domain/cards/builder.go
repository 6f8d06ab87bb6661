package cards

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/yanqian/weathercards/internal/domain/recipient"
	"github.com/yanqian/weathercards/internal/domain/weather"
	apperrors "github.com/yanqian/weathercards/pkg/errors"
)

// BuilderConfig holds the defaults applied to zero valued options.
type BuilderConfig struct {
	DefaultLocale   string
	DefaultTone     Tone
	DefaultCount    int
	DefaultMaxChars int
}

// Builder assembles generation requests.
type Builder struct {
	cfg      BuilderConfig
	validate *validator.Validate
	newID    func() string
}

// NewBuilder constructs a builder with the provided defaults.
func NewBuilder(cfg BuilderConfig) *Builder {
	return &Builder{
		cfg:      cfg,
		validate: validator.New(),
		newID:    func() string { return uuid.New().String() },
	}
}

// Build produces a request with a fresh request id. Out of range options are
// rejected with invalid_request rather than clamped.
func (b *Builder) Build(rec recipient.Recipient, snap weather.Snapshot, trigger weather.Trigger, opts Options) (Request, error) {
	if !rec.HasLocation() {
		return Request{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "recipient has no location", nil)
	}
	if !trigger.Valid() {
		return Request{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "unknown trigger "+string(trigger), nil)
	}
	opts = b.withDefaults(opts)
	if !opts.Tone.Valid() {
		return Request{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "unknown tone "+string(opts.Tone), nil)
	}
	relation := rec.Relation
	if relation == "" {
		relation = recipient.RelationOther
	}
	if !relation.Valid() {
		return Request{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "unknown relation "+string(relation), nil)
	}

	req := Request{
		RequestID:   b.newID(),
		RecipientID: rec.ID,
		Locale:      opts.Locale,
		CardsCount:  opts.CardsCount,
		Recipient: RecipientInfo{
			Nickname:     strings.TrimSpace(rec.CardName()),
			RelationType: relation,
		},
		Tone: opts.Tone,
		City: City{Name: rec.City, Lat: rec.Lat, Lon: rec.Lon},
		Weather: WeatherInfo{
			TriggerType:  trigger,
			Condition:    snap.Condition,
			Temperature:  snap.TemperatureC,
			FeelsLike:    snap.ApparentC(),
			PrecipChance: snap.PrecipChance,
			WindSpeed:    snap.WindSpeedKmh,
			CapturedAt:   snap.CapturedAt.UTC().Truncate(time.Second),
		},
		Constraints: Constraints{
			MaxCharsPerCard: opts.MaxCharsPerCard,
			AvoidEmoji:      opts.AvoidEmoji,
		},
	}
	if err := b.validate.Struct(req); err != nil {
		return Request{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "card request out of bounds", err)
	}
	return req, nil
}

func (b *Builder) withDefaults(opts Options) Options {
	opts.Locale = strings.TrimSpace(opts.Locale)
	if opts.Locale == "" {
		opts.Locale = b.cfg.DefaultLocale
	}
	if opts.Tone == "" {
		opts.Tone = b.cfg.DefaultTone
	}
	if opts.CardsCount == 0 {
		opts.CardsCount = b.cfg.DefaultCount
	}
	if opts.MaxCharsPerCard == 0 {
		opts.MaxCharsPerCard = b.cfg.DefaultMaxChars
	}
	return opts
}
