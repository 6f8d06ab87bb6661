package recipient

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/weathercards/internal/domain/weather"
	apperrors "github.com/yanqian/weathercards/pkg/errors"
	"github.com/yanqian/weathercards/pkg/util"
)

const maxDisplayNameRunes = 64

// Service manages the recipient list and keeps locations resolved.
type Service interface {
	List(ctx context.Context) ([]Recipient, error)
	Get(ctx context.Context, id string) (Recipient, error)
	Save(ctx context.Context, req SaveRequest) (Recipient, error)
	Delete(ctx context.Context, id string) error
}

type service struct {
	repo     Repository
	geocoder Geocoder
	hub      *Hub
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService wires the recipient domain.
func NewService(repo Repository, geocoder Geocoder, hub *Hub, logger *slog.Logger) Service {
	return &service{
		repo:     repo,
		geocoder: geocoder,
		hub:      hub,
		logger:   logger.With("component", "recipient.service"),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

func (s *service) List(ctx context.Context) ([]Recipient, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to list recipients", err)
	}
	return list, nil
}

func (s *service) Get(ctx context.Context, id string) (Recipient, error) {
	rec, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return Recipient{}, apperrors.Wrap(apperrors.CodeInternal, "failed to load recipient", err)
	}
	if !ok {
		return Recipient{}, apperrors.Wrap(apperrors.CodeNotFound, "recipient not found", nil)
	}
	return rec, nil
}

// Save creates or updates a recipient. Location precedence:
//  1. coordinates that differ from the stored ones are taken as given, and an
//     empty city is filled by reverse geocoding;
//  2. otherwise a city whose text changed, or that has no coordinates yet, is
//     forward geocoded;
//  3. otherwise the stored coordinates are kept.
func (s *service) Save(ctx context.Context, req SaveRequest) (Recipient, error) {
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Nickname = strings.TrimSpace(req.Nickname)
	req.City = strings.TrimSpace(req.City)
	req.TimeZone = strings.TrimSpace(req.TimeZone)
	if err := validateSave(req); err != nil {
		return Recipient{}, err
	}

	var existing *Recipient
	if req.ID != "" {
		rec, ok, err := s.repo.Get(ctx, req.ID)
		if err != nil {
			return Recipient{}, apperrors.Wrap(apperrors.CodeInternal, "failed to load recipient", err)
		}
		if ok {
			existing = &rec
		}
	} else {
		req.ID = s.newID()
	}

	rec := Recipient{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Nickname:    req.Nickname,
		Relation:    req.Relation,
		Avatar:      req.Avatar,
		City:        req.City,
		TimeZone:    req.TimeZone,
	}
	if rec.Relation == "" {
		rec.Relation = RelationOther
	}
	if err := s.resolveLocation(ctx, &rec, req, existing); err != nil {
		return Recipient{}, err
	}
	rec.UpdatedAt = s.now().UTC()

	saved, err := s.repo.Save(ctx, rec)
	if err != nil {
		return Recipient{}, apperrors.Wrap(apperrors.CodeInternal, "failed to save recipient", err)
	}
	s.logger.Info("recipient saved", "recipientId", saved.ID, "city", saved.City, "hasLocation", saved.HasLocation())
	if s.hub != nil {
		s.hub.Publish(Event{Kind: EventSaved, Recipient: saved})
	}
	return saved, nil
}

func (s *service) Delete(ctx context.Context, id string) error {
	rec, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to load recipient", err)
	}
	if !ok {
		return apperrors.Wrap(apperrors.CodeNotFound, "recipient not found", nil)
	}
	if _, err := s.repo.Delete(ctx, id); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to delete recipient", err)
	}
	s.logger.Info("recipient deleted", "recipientId", id)
	if s.hub != nil {
		s.hub.Publish(Event{Kind: EventDeleted, Recipient: rec})
	}
	return nil
}

func (s *service) resolveLocation(ctx context.Context, rec *Recipient, req SaveRequest, existing *Recipient) error {
	given := weather.Location{Lat: req.Lat, Lon: req.Lon}

	coordsChanged := given.IsSet() && (existing == nil || existing.Lat != req.Lat || existing.Lon != req.Lon)
	cityChanged := existing == nil || !strings.EqualFold(existing.City, req.City)

	switch {
	case coordsChanged:
		if !given.Valid() {
			return apperrors.Wrap(apperrors.CodeInvalidRequest, "coordinates out of range", nil)
		}
		rec.Lat, rec.Lon = req.Lat, req.Lon
		if rec.City == "" && s.geocoder != nil {
			name, err := s.geocoder.Reverse(ctx, req.Lat, req.Lon)
			if err != nil {
				// A nameless point is still usable for weather.
				s.logger.Warn("reverse geocoding failed", "lat", req.Lat, "lon", req.Lon, "error", err)
			} else {
				rec.City = name
			}
		}
	case rec.City != "" && (cityChanged || !existing.HasLocation()):
		if s.geocoder == nil {
			return apperrors.Wrap(apperrors.CodeInternal, "geocoding is not configured", nil)
		}
		place, err := s.geocoder.Forward(ctx, rec.City)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeNotFound) {
				return apperrors.Wrap(apperrors.CodeNotFound, "city could not be located", err)
			}
			return err
		}
		rec.Lat, rec.Lon = place.Lat, place.Lon
	case existing != nil && !cityChanged:
		rec.Lat, rec.Lon = existing.Lat, existing.Lon
	case given.IsSet():
		rec.Lat, rec.Lon = given.Lat, given.Lon
	}
	if rec.TimeZone == "" && existing != nil && !coordsChanged && !cityChanged {
		rec.TimeZone = existing.TimeZone
	}
	return nil
}

func validateSave(req SaveRequest) error {
	if req.DisplayName == "" {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "displayName is required", nil)
	}
	if len([]rune(req.DisplayName)) > maxDisplayNameRunes {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "displayName is too long", nil)
	}
	if req.Relation != "" && !req.Relation.Valid() {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "unknown relation", nil)
	}
	if req.TimeZone != "" && util.LoadLocation(req.TimeZone) == nil {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "unknown time zone", nil)
	}
	return nil
}
