// Package pushapi is the HTTP client for the push provider. It implements
// delivery.Transport with client-side rate limiting and typed failure
// classification.
package pushapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/push-garden/internal/delivery"
	"golang.org/x/time/rate"
)

// Config holds push provider client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RequestsPerSecond bounds outbound send rate; zero disables the
	// limiter.
	RequestsPerSecond float64
	Burst             int
}

// Sender sends push messages over the provider's HTTP API.
type Sender struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewSender creates a provider client.
func NewSender(cfg Config) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Sender{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

type sendRequest struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type sendResponse struct {
	DeliveryID string `json:"delivery_id"`
	Error      string `json:"error,omitempty"`
}

// Send delivers one message. Provider responses indicating a dead token
// come back as a SendError with InvalidToken set.
func (s *Sender) Send(ctx context.Context, token, title, body string, data map[string]string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", &delivery.SendError{Code: "rate_limit_wait", Err: err}
		}
	}

	payload, err := json.Marshal(sendRequest{Token: token, Title: title, Body: body, Data: data})
	if err != nil {
		return "", &delivery.SendError{Code: "encode_request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", &delivery.SendError{Code: "build_request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &delivery.SendError{Code: "transport_error", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", &delivery.SendError{Code: "read_response", Err: err}
	}

	var out sendResponse
	if len(raw) > 0 {
		// Non-JSON error bodies are tolerated; classification falls back
		// to the status code.
		_ = json.Unmarshal(raw, &out)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return out.DeliveryID, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone || out.Error == "unregistered":
		return "", &delivery.SendError{
			Code:         "invalid_token",
			InvalidToken: true,
			Err:          fmt.Errorf("provider status %d: %s", resp.StatusCode, out.Error),
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &delivery.SendError{
			Code:         "rate_limited",
			RetryAfterMs: retryAfterMs(resp.Header.Get("Retry-After")),
			Err:          fmt.Errorf("provider status %d", resp.StatusCode),
		}
	default:
		return "", &delivery.SendError{
			Code: "transport_error",
			Err:  fmt.Errorf("provider status %d: %s", resp.StatusCode, out.Error),
		}
	}
}

func retryAfterMs(header string) int64 {
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return int64(secs) * 1000
}
