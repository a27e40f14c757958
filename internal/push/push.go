// Package push wraps the external token-based push channel behind a small
// capability: send(token, provider, title, body, data). Two providers are
// supported, Expo and FCM, selected per user. Delivery failures are results,
// not panics; the poller decides what to do with them (today: log and move
// on, accepting deliver-or-drop over duplicate-notification storms).
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lessonlink/go-notify-backend/internal/config"
	"github.com/lessonlink/go-notify-backend/internal/domain"
)

// Result reports one send attempt.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Sender is the capability the poller consumes.
type Sender interface {
	Send(ctx context.Context, token, provider, title, body string, data map[string]string) (Result, error)
}

// Service dispatches sends to the provider-specific HTTP endpoint. Safe for
// concurrent use.
type Service struct {
	cfg    config.PushConfig
	client *http.Client
	log    zerolog.Logger
}

// NewService constructs a Service. The HTTP client timeout doubles as the
// transport-level cap on a single send; the poller layers its own per-record
// context timeout on top.
func NewService(cfg config.PushConfig, log zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.SendTimeout},
		log:    log.With().Str("component", "push").Logger(),
	}
}

// Send delivers one push message via the given provider.
func (s *Service) Send(ctx context.Context, token, provider, title, body string, data map[string]string) (Result, error) {
	switch provider {
	case domain.PushProviderExpo:
		return s.sendExpo(ctx, token, title, body, data)
	case domain.PushProviderFCM:
		return s.sendFCM(ctx, token, title, body, data)
	default:
		return Result{Error: "unknown provider"}, fmt.Errorf("push: unknown provider %q", provider)
	}
}

// expoTicket is the per-message element of the Expo push API response.
type expoTicket struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // "ok" | "error"
	Message string `json:"message"`
}

func (s *Service) sendExpo(ctx context.Context, token, title, body string, data map[string]string) (Result, error) {
	payload := map[string]any{
		"to":    token,
		"title": title,
		"body":  body,
		"sound": "default",
	}
	if len(data) > 0 {
		payload["data"] = data
	}

	var resp struct {
		Data expoTicket `json:"data"`
	}
	if err := s.post(ctx, s.cfg.ExpoURL, nil, payload, &resp); err != nil {
		return Result{Error: err.Error()}, err
	}
	if resp.Data.Status != "ok" {
		return Result{Error: resp.Data.Message}, nil
	}
	return Result{Success: true, MessageID: resp.Data.ID}, nil
}

func (s *Service) sendFCM(ctx context.Context, token, title, body string, data map[string]string) (Result, error) {
	payload := map[string]any{
		"to": token,
		"notification": map[string]string{
			"title": title,
			"body":  body,
		},
	}
	if len(data) > 0 {
		payload["data"] = data
	}
	headers := map[string]string{"Authorization": "key=" + s.cfg.FCMKey}

	var resp struct {
		Success int `json:"success"`
		Results []struct {
			MessageID string `json:"message_id"`
			Error     string `json:"error"`
		} `json:"results"`
	}
	if err := s.post(ctx, s.cfg.FCMURL, headers, payload, &resp); err != nil {
		return Result{Error: err.Error()}, err
	}
	if resp.Success < 1 || len(resp.Results) == 0 {
		msg := "delivery refused"
		if len(resp.Results) > 0 && resp.Results[0].Error != "" {
			msg = resp.Results[0].Error
		}
		return Result{Error: msg}, nil
	}
	return Result{Success: true, MessageID: resp.Results[0].MessageID}, nil
}

// post issues one JSON request and decodes the JSON response into out.
// Non-2xx statuses are errors; bodies are capped to keep a misbehaving
// endpoint from ballooning memory.
func (s *Service) post(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("push: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("push: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: send: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("push: read response: %w", err)
	}
	s.log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("provider call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push: provider returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("push: decode response: %w", err)
	}
	return nil
}
