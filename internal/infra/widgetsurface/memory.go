package widgetsurface

import (
	"context"
	"sync"

	"github.com/yanqian/weathercards/internal/domain/widget"
)

// View is everything currently published to the memory surface.
type View struct {
	Index   widget.Index                   `json:"index"`
	Weather map[string]widget.WeatherEntry `json:"weather"`
	Cards   map[string]widget.CardsEntry   `json:"cards"`
}

// MemorySurface keeps the latest published state in process memory. The HTTP
// API reads the widget view from it.
type MemorySurface struct {
	mu      sync.RWMutex
	index   widget.Index
	weather map[string]widget.WeatherEntry
	cards   map[string]widget.CardsEntry
}

// NewMemorySurface constructs an empty surface.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{
		weather: make(map[string]widget.WeatherEntry),
		cards:   make(map[string]widget.CardsEntry),
	}
}

func (s *MemorySurface) Name() string { return "memory" }

// PutIndex replaces the index and drops entries of recipients no longer listed.
func (s *MemorySurface) PutIndex(_ context.Context, index widget.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
	live := make(map[string]struct{}, len(index.Recipients))
	for _, e := range index.Recipients {
		live[e.ID] = struct{}{}
	}
	for id := range s.weather {
		if _, ok := live[id]; !ok {
			delete(s.weather, id)
		}
	}
	for id := range s.cards {
		if _, ok := live[id]; !ok {
			delete(s.cards, id)
		}
	}
	return nil
}

func (s *MemorySurface) PutWeather(_ context.Context, entry widget.WeatherEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weather[entry.RecipientID] = entry
	return nil
}

func (s *MemorySurface) PutCards(_ context.Context, entry widget.CardsEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[entry.RecipientID] = entry
	return nil
}

// View returns a copy of the published state.
func (s *MemorySurface) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := View{
		Index:   s.index,
		Weather: make(map[string]widget.WeatherEntry, len(s.weather)),
		Cards:   make(map[string]widget.CardsEntry, len(s.cards)),
	}
	view.Index.Recipients = append([]widget.IndexEntry(nil), s.index.Recipients...)
	for id, e := range s.weather {
		view.Weather[id] = e
	}
	for id, e := range s.cards {
		e.Group = e.Group.Clone()
		view.Cards[id] = e
	}
	return view
}

var _ widget.Surface = (*MemorySurface)(nil)
