package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultExpoURL is the public Expo push endpoint.
	DefaultExpoURL      = "https://exp.host/--/api/v2/push/send"
	expoStatusOK        = "ok"
	maxExpoResponseSize = 1 << 20
)

// ExpoConfig configures the cross-platform transport.
type ExpoConfig struct {
	URL         string
	AccessToken string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// ExpoChannel relays alerts to cross-platform push tokens through the Expo push API.
type ExpoChannel struct {
	url         string
	accessToken string
	client      *http.Client
	logger      *zap.Logger
}

type expoRequest struct {
	To    string            `json:"to"`
	Sound string            `json:"sound"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// NewExpoChannel constructs the Expo transport.
func NewExpoChannel(cfg ExpoConfig) *ExpoChannel {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultExpoURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpoChannel{
		url:         url,
		accessToken: strings.TrimSpace(cfg.AccessToken),
		client:      client,
		logger:      logger,
	}
}

// Send posts a single notification and succeeds only on an "ok" ticket.
func (e *ExpoChannel) Send(ctx context.Context, token string, message Message) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	payload, err := json.Marshal(expoRequest{
		To:    token,
		Sound: "default",
		Title: message.Title(),
		Body:  message.Body(),
		Data:  message.Data(),
	})
	if err != nil {
		return transportError("expo", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return transportError("expo", err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Content-Type", "application/json")
	if e.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+e.accessToken)
	}

	response, err := e.client.Do(request)
	if err != nil {
		return transportError("expo", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxExpoResponseSize))
	if err != nil {
		return transportError("expo", err)
	}
	if response.StatusCode != http.StatusOK {
		return transportError("expo", fmt.Errorf("unexpected status %d", response.StatusCode))
	}

	ticket, err := decodeExpoTicket(body)
	if err != nil {
		return transportError("expo", err)
	}
	if ticket.Status != expoStatusOK {
		e.logger.Warn("expo rejected notification",
			zap.Int64("event_id", message.EventID),
			zap.String("status", ticket.Status),
			zap.String("detail", ticket.Details.Error),
			zap.String("message", ticket.Message))
		return transportError("expo", fmt.Errorf("ticket status %q", ticket.Status))
	}
	return nil
}

// decodeExpoTicket accepts both the single-object and the array form of the data field.
func decodeExpoTicket(body []byte) (expoTicket, error) {
	var envelope expoResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return expoTicket{}, err
	}
	if len(envelope.Errors) > 0 {
		return expoTicket{}, fmt.Errorf("%s: %s", envelope.Errors[0].Code, envelope.Errors[0].Message)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return expoTicket{}, errors.New("response carries no ticket")
	}
	if data[0] == '[' {
		var tickets []expoTicket
		if err := json.Unmarshal(data, &tickets); err != nil {
			return expoTicket{}, err
		}
		if len(tickets) == 0 {
			return expoTicket{}, errors.New("response carries no ticket")
		}
		return tickets[0], nil
	}
	var ticket expoTicket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return expoTicket{}, err
	}
	return ticket, nil
}
