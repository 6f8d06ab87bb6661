package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yanqian/weathercards/internal/domain/recipient"
	apperrors "github.com/yanqian/weathercards/pkg/errors"
)

const defaultBaseURL = "https://nominatim.openstreetmap.org"

// Config configures the geocoding client.
type Config struct {
	BaseURL   string
	UserAgent string
	Language  string
	Timeout   time.Duration
}

// Client resolves places through a Nominatim compatible service.
type Client struct {
	baseURL    string
	userAgent  string
	language   string
	httpClient *http.Client
}

var _ recipient.Geocoder = (*Client)(nil)

// NewClient builds a geocoding client.
func NewClient(cfg Config) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		userAgent:  cfg.UserAgent,
		language:   cfg.Language,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Forward returns the best match for a free text query.
func (c *Client) Forward(ctx context.Context, query string) (recipient.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return recipient.Place{}, apperrors.Wrap(apperrors.CodeInvalidRequest, "geocoding query is empty", nil)
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")

	var results []place
	if err := c.get(ctx, "/search", params, &results); err != nil {
		return recipient.Place{}, err
	}
	if len(results) == 0 {
		return recipient.Place{}, apperrors.Wrap(apperrors.CodeNotFound, "no place matches "+query, nil)
	}
	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(results[0].Lon, 64)
	if errLat != nil || errLon != nil {
		return recipient.Place{}, apperrors.Wrap(apperrors.CodeMalformedResponse, "geocoding returned invalid coordinates", nil)
	}
	return recipient.Place{DisplayName: results[0].shortName(query), Lat: lat, Lon: lon}, nil
}

// Reverse returns a display name for the coordinates.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	params.Set("format", "jsonv2")
	params.Set("zoom", "10")

	var result place
	if err := c.get(ctx, "/reverse", params, &result); err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", apperrors.Wrap(apperrors.CodeNotFound, result.Error, nil)
	}
	name := result.shortName("")
	if name == "" {
		return "", apperrors.Wrap(apperrors.CodeNotFound, "no place at coordinates", nil)
	}
	return name, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "build geocoding request", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.language != "" {
		req.Header.Set("Accept-Language", c.language)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransport, "geocoding request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		cause := fmt.Errorf("status=%d body=%s", resp.StatusCode, string(payload))
		if resp.StatusCode >= 500 {
			return apperrors.Wrap(apperrors.CodeServiceUnavailable, "geocoding service unavailable", cause)
		}
		return apperrors.Wrap(apperrors.CodeRequestRejected, "geocoding request rejected", cause)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.CodeMalformedResponse, "decode geocoding response", err)
	}
	return nil
}

type place struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
	Error       string  `json:"error"`
}

type address struct {
	City    string `json:"city"`
	Town    string `json:"town"`
	Village string `json:"village"`
	County  string `json:"county"`
	State   string `json:"state"`
}

// shortName prefers the settlement name over the full display string.
func (p place) shortName(fallback string) string {
	for _, candidate := range []string{p.Address.City, p.Address.Town, p.Address.Village, p.Name, p.Address.County, p.Address.State} {
		if candidate != "" {
			return candidate
		}
	}
	if p.DisplayName != "" {
		return strings.TrimSpace(strings.Split(p.DisplayName, ",")[0])
	}
	return fallback
}
