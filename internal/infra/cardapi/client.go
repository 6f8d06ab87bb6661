package cardapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/yanqian/weathercards/internal/domain/cards"
	apperrors "github.com/yanqian/weathercards/pkg/errors"
)

const (
	generatePath    = "/cards-generate"
	maxResponseSize = 1 << 20
)

// SessionManager supplies the bearer token for the card endpoint.
type SessionManager interface {
	Token(ctx context.Context) (string, error)
}

// Config configures the card generation client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	DeviceID    string
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Client calls the remote card generation endpoint. It never retries and
// never writes to the card cache.
type Client struct {
	baseURL    string
	deviceID   string
	httpClient *http.Client
	sessions   SessionManager
	breaker    *gobreaker.CircuitBreaker[response]
	inflight   singleflight.Group
	logger     *slog.Logger
	now        func() time.Time
}

var _ cards.Generator = (*Client)(nil)

type response struct {
	status int
	body   []byte
}

// NewClient constructs a card generation client.
func NewClient(cfg Config, sessions SessionManager, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("card api base url cannot be empty")
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, errors.New("card api device id cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		deviceID:   cfg.DeviceID,
		httpClient: &http.Client{Timeout: timeout},
		sessions:   sessions,
		breaker: gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
			Name:        "card-api",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		}),
		logger: logger.With("component", "cardapi.client"),
		now:    time.Now,
	}, nil
}

// Generate sends req and returns the validated card group. Concurrent calls
// carrying the same request id share a single HTTP exchange.
func (c *Client) Generate(ctx context.Context, req cards.Request) (cards.Group, error) {
	token, err := c.sessions.Token(ctx)
	if err != nil {
		return cards.Group{}, apperrors.Wrap(apperrors.CodeUnauthenticated, "no valid session", err)
	}
	if strings.TrimSpace(token) == "" {
		return cards.Group{}, apperrors.Wrap(apperrors.CodeUnauthenticated, "no valid session", nil)
	}

	v, err, shared := c.inflight.Do(req.RequestID, func() (any, error) {
		return c.generate(ctx, token, req)
	})
	if err != nil {
		return cards.Group{}, err
	}
	group := v.(cards.Group)
	if shared {
		group = group.Clone()
	}
	return group, nil
}

func (c *Client) generate(ctx context.Context, token string, req cards.Request) (cards.Group, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return cards.Group{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "encode card request", err)
	}

	started := c.now()
	resp, err := c.breaker.Execute(func() (response, error) {
		return c.post(ctx, token, req.RequestID, payload)
	})
	latency := c.now().Sub(started)
	if err != nil {
		c.logger.Warn("card generation call failed", "request_id", req.RequestID, "status", resp.status, "latency", latency, "error", err)
		return cards.Group{}, classify(resp, err)
	}
	if resp.status >= 300 {
		c.logger.Warn("card generation rejected", "request_id", req.RequestID, "status", resp.status)
		return cards.Group{}, classify(resp, nil)
	}

	group, err := decodeGroup(resp.body, req)
	if err != nil {
		c.logger.Warn("card generation response invalid", "request_id", req.RequestID, "error", err)
		return cards.Group{}, err
	}
	if group.Meta.LatencyMs == 0 {
		group.Meta.LatencyMs = latency.Milliseconds()
	}
	return group, nil
}

// post performs one exchange. Transport failures and 5xx statuses are
// returned as errors so they count against the breaker.
func (c *Client) post(ctx context.Context, token, requestID string, payload []byte) (response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(payload))
	if err != nil {
		return response{}, fmt.Errorf("build card request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Device-Id", c.deviceID)
	httpReq.Header.Set("X-Request-Id", requestID)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return response{}, fmt.Errorf("request card generation: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return response{status: resp.StatusCode}, fmt.Errorf("read card response: %w", err)
	}
	out := response{status: resp.StatusCode, body: body}
	if resp.StatusCode >= 500 {
		return out, fmt.Errorf("card service failed: status=%d body=%s", resp.StatusCode, truncate(body, 512))
	}
	return out, nil
}

func classify(resp response, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperrors.Wrap(apperrors.CodeTransport, "card service circuit open", err)
	case resp.status >= 500:
		return apperrors.Wrap(apperrors.CodeServiceUnavailable, "card service unavailable", err)
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden:
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "card service refused the session", statusError(resp))
	case resp.status >= 300:
		return apperrors.Wrap(apperrors.CodeRequestRejected, "card service rejected the request", statusError(resp))
	case err != nil:
		return apperrors.Wrap(apperrors.CodeTransport, "card service unreachable", err)
	default:
		return nil
	}
}

func statusError(resp response) error {
	return fmt.Errorf("status=%d body=%s", resp.status, truncate(resp.body, 512))
}

func truncate(body []byte, limit int) string {
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
