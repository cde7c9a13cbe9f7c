package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxResponseSize       = 4 << 20
)

var (
	// ErrUnauthorized indicates that the server rejected the access token.
	ErrUnauthorized = errors.New("client: unauthorized")
	// ErrUnexpectedStatus indicates any other non-200 response.
	ErrUnexpectedStatus = errors.New("client: unexpected status")

	errMissingBaseURL = errors.New("client: base url is required")
)

// Event is an emergency event as seen by a device.
type Event struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

// NotifyResult is the server answer to an emergency trigger.
type NotifyResult struct {
	Status     string `json:"status"`
	Recipients int    `json:"recipients"`
	EventID    int64  `json:"event_id"`
}

// APIConfig configures the HTTP client.
type APIConfig struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

// APIClient talks to the LocalShield HTTP surface on behalf of one device.
type APIClient struct {
	baseURL     *url.URL
	accessToken string
	httpClient  *http.Client
}

// NewAPIClient validates the base URL and constructs an APIClient.
func NewAPIClient(cfg APIConfig) (*APIClient, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &APIClient{
		baseURL:     baseURL,
		accessToken: strings.TrimSpace(cfg.AccessToken),
		httpClient:  httpClient,
	}, nil
}

// FetchSince returns the events created strictly after since.
func (c *APIClient) FetchSince(ctx context.Context, since time.Time) ([]Event, error) {
	query := url.Values{}
	query.Set("since", since.UTC().Format(time.RFC3339Nano))
	var fetched []Event
	if err := c.do(ctx, http.MethodGet, "/emergency/recent", query, nil, &fetched); err != nil {
		return nil, err
	}
	return fetched, nil
}

// UpdateLocation reports the device position.
func (c *APIClient) UpdateLocation(ctx context.Context, latitude, longitude float64) error {
	body := map[string]float64{"latitude": latitude, "longitude": longitude}
	return c.do(ctx, http.MethodPost, "/location/update", nil, body, nil)
}

// RegisterToken registers the device push token under kind.
func (c *APIClient) RegisterToken(ctx context.Context, kind, token string) error {
	body := map[string]string{"channel_kind": kind, "token": token}
	return c.do(ctx, http.MethodPost, "/location/register_token", nil, body, nil)
}

// NotifyNearby triggers an emergency at the given position.
func (c *APIClient) NotifyNearby(ctx context.Context, latitude, longitude float64) (NotifyResult, error) {
	body := map[string]float64{"latitude": latitude, "longitude": longitude}
	var result NotifyResult
	if err := c.do(ctx, http.MethodPost, "/emergency/notify_nearby", nil, body, &result); err != nil {
		return NotifyResult{}, err
	}
	return result, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL.JoinPath(path)
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}
	switch {
	case response.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case response.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrUnexpectedStatus, method, path, response.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
