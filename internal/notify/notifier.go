package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

//go:generate mockgen -destination=../mocks/mock_notifier.go -package=mocks github.com/weiawesome/wes-io-live/delivery-service/internal/notify Notifier

// PushMessage is one push notification addressed to a device token.
type PushMessage struct {
	To    string                 `json:"to"`
	Title string                 `json:"title,omitempty"`
	Body  string                 `json:"body"`
	Sound string                 `json:"sound,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Notifier delivers push notifications to an out-of-band transport.
type Notifier interface {
	Push(ctx context.Context, msg PushMessage) error
}

// ExpoConfig configures the Expo push transport.
type ExpoConfig struct {
	URL         string
	AccessToken string
	Timeout     time.Duration
}

// ExpoNotifier sends notifications through the Expo push API.
type ExpoNotifier struct {
	url         string
	accessToken string
	client      *http.Client
}

const defaultExpoURL = "https://exp.host/--/api/v2/push/send"

// NewExpoNotifier creates a notifier for the Expo push API.
func NewExpoNotifier(cfg ExpoConfig) *ExpoNotifier {
	url := cfg.URL
	if url == "" {
		url = defaultExpoURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExpoNotifier{
		url:         url,
		accessToken: cfg.AccessToken,
		client:      &http.Client{Timeout: timeout},
	}
}

type expoTicket struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type expoResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

func (n *ExpoNotifier) Push(ctx context.Context, msg PushMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if n.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.accessToken)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read push response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("push rejected with status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var parsed expoResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("failed to decode push response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return fmt.Errorf("push rejected: %s: %s", parsed.Errors[0].Code, parsed.Errors[0].Message)
	}

	var ticket expoTicket
	if err := json.Unmarshal(parsed.Data, &ticket); err == nil && ticket.Status == "error" {
		return fmt.Errorf("push ticket error: %s", ticket.Message)
	}
	return nil
}
