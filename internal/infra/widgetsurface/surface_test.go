package widgetsurface

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/weathercards/internal/domain/cards"
	"github.com/yanqian/weathercards/internal/domain/weather"
	"github.com/yanqian/weathercards/internal/domain/widget"
)

func TestMemorySurfaceDropsUnlistedRecipients(t *testing.T) {
	s := NewMemorySurface()
	ctx := context.Background()
	require.NoError(t, s.PutWeather(ctx, widget.WeatherEntry{RecipientID: "r1", Trigger: weather.TriggerRain}))
	require.NoError(t, s.PutWeather(ctx, widget.WeatherEntry{RecipientID: "r2", Trigger: weather.TriggerHeat}))
	require.NoError(t, s.PutCards(ctx, widget.CardsEntry{RecipientID: "r2", Group: cards.Group{GroupID: "g"}}))

	require.NoError(t, s.PutIndex(ctx, widget.Index{Recipients: []widget.IndexEntry{{ID: "r1"}}}))

	view := s.View()
	require.Len(t, view.Index.Recipients, 1)
	require.Contains(t, view.Weather, "r1")
	require.NotContains(t, view.Weather, "r2")
	require.Empty(t, view.Cards)
}

func TestPayloadCodec(t *testing.T) {
	entry := widget.CardsEntry{
		RecipientID: "r1",
		Group: cards.Group{
			GroupID: "g1",
			Cards:   []cards.Card{{CardID: "c1", Text: strings.Repeat("下雨记得带伞。", 20), Source: cards.SourceLLM}},
		},
		PublishedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	payload, err := encodePayload(entry)
	require.NoError(t, err)

	var decoded widget.CardsEntry
	require.NoError(t, decodePayload(payload, &decoded))
	require.Equal(t, entry, decoded)

	require.Error(t, decodePayload([]byte("plain text"), &decoded))
}

func TestObjectSurfaceRecoversAfterStorageOutage(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	var heads, puts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.Method {
		case http.MethodHead:
			heads.Add(1)
		case http.MethodPut:
			puts.Add(1)
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	surface, err := NewObjectSurface(ObjectConfig{
		Endpoint:  srv.URL,
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "widgets",
		Region:    "us-east-1",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.Error(t, surface.PutIndex(ctx, widget.Index{}))
	require.Zero(t, puts.Load())

	down.Store(false)
	require.NoError(t, surface.PutIndex(ctx, widget.Index{}))
	require.NoError(t, surface.PutCards(ctx, widget.CardsEntry{RecipientID: "r1", Group: cards.Group{GroupID: "g1"}}))
	require.EqualValues(t, 2, puts.Load())
	require.EqualValues(t, 1, heads.Load(), "bucket is checked once after it becomes ready")
}

func TestSanitizeEndpoint(t *testing.T) {
	require.Equal(t, "account.r2.cloudflarestorage.com", sanitizeEndpoint("https://account.r2.cloudflarestorage.com/bucket"))
	require.Equal(t, "localhost:9000", sanitizeEndpoint(" http://localhost:9000 "))
}

func TestValkeySurfaceKeys(t *testing.T) {
	s := NewValkeySurface(nil, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Equal(t, "widget:index", s.indexKey())
	require.Equal(t, "widget:weather:r1", s.weatherKey("r1"))
	require.Equal(t, "widget:cards:r1", s.cardsKey("r1"))
	require.Equal(t, "widget:updates", s.channel())
}

func TestFCMNotifierSendsDataMessages(t *testing.T) {
	stub := &stubMessenger{}
	n := newFCMNotifier(stub, "widget-sync", slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, n.PutWeather(context.Background(), widget.WeatherEntry{
		RecipientID: "r1",
		Trigger:     weather.TriggerSnow,
		Snapshot:    weather.Snapshot{Stale: true},
	}))
	require.NoError(t, n.PutCards(context.Background(), widget.CardsEntry{RecipientID: "r1", Group: cards.Group{GroupID: "g"}}))

	require.Len(t, stub.messages, 2)
	msg := stub.messages[0]
	require.Equal(t, "widget-sync", msg.Topic)
	require.Nil(t, msg.Notification)
	require.Equal(t, map[string]string{"kind": "weather", "recipientId": "r1", "triggerType": "snow", "stale": "true"}, msg.Data)
	require.Equal(t, "g", stub.messages[1].Data["groupId"])
}

type stubMessenger struct {
	messages []*messaging.Message
}

func (s *stubMessenger) Send(_ context.Context, message *messaging.Message) (string, error) {
	s.messages = append(s.messages, message)
	return "projects/test/messages/1", nil
}
