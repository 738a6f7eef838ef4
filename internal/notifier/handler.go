// Package notifier sends the order confirmation for every order.placed event.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/domain"
)

const mailDomain = "example.com"

// Deduper reports whether key is seen for the first time.
type Deduper interface {
	First(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type ConfirmationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	dedup           Deduper
	logger          *slog.Logger
}

func NewConfirmationHandler(emailServiceURL string, client *http.Client, dedup Deduper, logger *slog.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		dedup:           dedup,
		logger:          logger,
	}
}

// Handle sends one confirmation per order. Messages are delivered at least
// once, so a redelivered order is skipped when a deduper is configured.
func (h *ConfirmationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("dropping malformed order placed event", "error", err)
		return nil
	}

	h.logger.Info("processing order placed event", "order_id", event.OrderID, "user_id", event.UserID)

	key := "notified:" + event.OrderID
	if h.dedup != nil {
		first, err := h.dedup.First(ctx, key)
		if err != nil {
			h.logger.Warn("dedup check failed, sending anyway", "error", err, "order_id", event.OrderID)
		} else if !first {
			h.logger.Info("confirmation already sent", "order_id", event.OrderID)
			return nil
		}
	}

	if err := h.sendConfirmationEmail(ctx, event); err != nil {
		h.logger.Error("failed to send confirmation email", "error", err, "order_id", event.OrderID)
		if h.dedup != nil {
			if ferr := h.dedup.Forget(ctx, key); ferr != nil {
				h.logger.Warn("failed to release dedup key", "error", ferr, "order_id", event.OrderID)
			}
		}
		return fmt.Errorf("send confirmation email: %w", err)
	}

	h.logger.Info("order confirmation sent", "order_id", event.OrderID)
	return nil
}

func (h *ConfirmationHandler) sendConfirmationEmail(ctx context.Context, event domain.OrderPlacedEvent) error {
	items := 0
	for _, l := range event.Lines {
		items += l.Quantity
	}

	body := map[string]string{
		"to":      event.UserID + "@" + mailDomain,
		"subject": "Order Confirmation: " + event.OrderID,
		"body": fmt.Sprintf("Hi %s, we received your order %s with %d items, total %s VND. We will call %s before delivery.",
			event.CustomerName, event.OrderID, items, event.TotalAmount.StringFixed(0), event.PhoneNumber),
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
