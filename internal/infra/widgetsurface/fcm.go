package widgetsurface

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/yanqian/weathercards/internal/domain/widget"
)

type messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier sends a data-only push to a topic so devices reload their
// widgets. It carries no snapshot payload.
type FCMNotifier struct {
	client messenger
	topic  string
	logger *slog.Logger
}

// NewFCMNotifier initialises Firebase messaging from a credentials file.
func NewFCMNotifier(ctx context.Context, credentialsFile, topic string, logger *slog.Logger) (*FCMNotifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	return newFCMNotifier(client, topic, logger), nil
}

func newFCMNotifier(client messenger, topic string, logger *slog.Logger) *FCMNotifier {
	return &FCMNotifier{client: client, topic: topic, logger: logger.With("component", "widgetsurface.fcm")}
}

func (n *FCMNotifier) Name() string { return "fcm" }

func (n *FCMNotifier) PutIndex(ctx context.Context, index widget.Index) error {
	return n.send(ctx, map[string]string{
		"kind":       "index",
		"recipients": strconv.Itoa(len(index.Recipients)),
	})
}

func (n *FCMNotifier) PutWeather(ctx context.Context, entry widget.WeatherEntry) error {
	return n.send(ctx, map[string]string{
		"kind":        "weather",
		"recipientId": entry.RecipientID,
		"triggerType": string(entry.Trigger),
		"stale":       strconv.FormatBool(entry.Snapshot.Stale),
	})
}

func (n *FCMNotifier) PutCards(ctx context.Context, entry widget.CardsEntry) error {
	return n.send(ctx, map[string]string{
		"kind":        "cards",
		"recipientId": entry.RecipientID,
		"groupId":     entry.Group.GroupID,
	})
}

func (n *FCMNotifier) send(ctx context.Context, data map[string]string) error {
	id, err := n.client.Send(ctx, &messaging.Message{
		Topic: n.topic,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority:    "normal",
			CollapseKey: data["kind"] + data["recipientId"],
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-push-type": "background", "apns-priority": "5"},
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{ContentAvailable: true}},
		},
	})
	if err != nil {
		return fmt.Errorf("send fcm message: %w", err)
	}
	n.logger.Debug("widget reload pushed", "kind", data["kind"], "message_id", id)
	return nil
}

var _ widget.Surface = (*FCMNotifier)(nil)
