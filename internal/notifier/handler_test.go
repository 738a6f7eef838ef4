package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront/internal/domain"
)

func placedEvent(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(domain.OrderPlacedEvent{
		OrderID:      "order-1",
		UserID:       "alice",
		CustomerName: "Alice",
		PhoneNumber:  "0901234567",
		Lines: []domain.OrderLine{
			{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(25000)},
			{ProductID: 3, Quantity: 1, UnitPrice: decimal.NewFromInt(35000)},
		},
		TotalAmount: decimal.NewFromInt(85000),
		Timestamp:   time.Now(),
	})
	require.NoError(t, err)
	return data
}

func emailServer(t *testing.T, status int, sent *atomic.Int32, last *map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if last != nil {
			*last = body
		}
		sent.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server
}

func newDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDeduper(client, time.Hour), mr
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestConfirmationHandler_Handle(t *testing.T) {
	t.Run("sends the confirmation", func(t *testing.T) {
		var sent atomic.Int32
		var body map[string]string
		server := emailServer(t, http.StatusOK, &sent, &body)

		h := NewConfirmationHandler(server.URL, server.Client(), nil, discard)
		require.NoError(t, h.Handle(context.Background(), placedEvent(t)))

		assert.Equal(t, int32(1), sent.Load())
		assert.Equal(t, "alice@example.com", body["to"])
		assert.Equal(t, "Order Confirmation: order-1", body["subject"])
		assert.Contains(t, body["body"], "3 items")
		assert.Contains(t, body["body"], "85000 VND")
	})

	t.Run("redelivery is sent once", func(t *testing.T) {
		var sent atomic.Int32
		server := emailServer(t, http.StatusOK, &sent, nil)
		dedup, mr := newDeduper(t)

		h := NewConfirmationHandler(server.URL, server.Client(), dedup, discard)
		require.NoError(t, h.Handle(context.Background(), placedEvent(t)))
		require.NoError(t, h.Handle(context.Background(), placedEvent(t)))

		assert.Equal(t, int32(1), sent.Load())
		assert.True(t, mr.Exists("notified:order-1"))
	})

	t.Run("email failure is retried on redelivery", func(t *testing.T) {
		var sent atomic.Int32
		server := emailServer(t, http.StatusInternalServerError, &sent, nil)
		dedup, mr := newDeduper(t)

		h := NewConfirmationHandler(server.URL, server.Client(), dedup, discard)
		err := h.Handle(context.Background(), placedEvent(t))

		assert.ErrorContains(t, err, "status 500")
		assert.False(t, mr.Exists("notified:order-1"))
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		var sent atomic.Int32
		server := emailServer(t, http.StatusOK, &sent, nil)

		h := NewConfirmationHandler(server.URL, server.Client(), nil, discard)
		require.NoError(t, h.Handle(context.Background(), []byte(`{not json`)))
		assert.Zero(t, sent.Load())
	})

	t.Run("redis outage does not block the email", func(t *testing.T) {
		var sent atomic.Int32
		server := emailServer(t, http.StatusOK, &sent, nil)
		dedup, mr := newDeduper(t)
		mr.Close()

		h := NewConfirmationHandler(server.URL, server.Client(), dedup, discard)
		require.NoError(t, h.Handle(context.Background(), placedEvent(t)))
		assert.Equal(t, int32(1), sent.Load())
	})
}
