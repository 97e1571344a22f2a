package pushapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/push-garden/internal/delivery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T, handler http.HandlerFunc) *Sender {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSender(Config{BaseURL: srv.URL, APIKey: "test-key"})
}

func TestSender_Success(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"delivery_id":"d-123"}`))
	})

	id, err := s.Send(context.Background(), "tok", "title", "body", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "d-123", id)
}

func TestSender_InvalidToken(t *testing.T) {
	statuses := []int{http.StatusNotFound, http.StatusGone}
	for _, status := range statuses {
		s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"unregistered"}`))
		})

		_, err := s.Send(context.Background(), "dead-token", "t", "b", nil)
		require.Error(t, err)
		se := delivery.AsSendError(err)
		assert.True(t, se.InvalidToken, "status %d must classify as invalid token", status)
	}
}

func TestSender_RateLimitedCarriesRetryHint(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := s.Send(context.Background(), "tok", "t", "b", nil)
	require.Error(t, err)
	se := delivery.AsSendError(err)
	assert.False(t, se.InvalidToken)
	assert.Equal(t, int64(30000), se.RetryAfterMs)
}

func TestSender_ServerError(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := s.Send(context.Background(), "tok", "t", "b", nil)
	require.Error(t, err)
	se := delivery.AsSendError(err)
	assert.Equal(t, "transport_error", se.Code)
	assert.False(t, se.InvalidToken)
}
