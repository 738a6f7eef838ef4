// Package email is a mail sink: it accepts outgoing messages and logs them
// in place of a real mail provider.
package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const maxBodyBytes = 64 << 10

type Handler struct {
	accepted metric.Int64Counter
	logger   *slog.Logger
}

func NewHandler(logger *slog.Logger) (*Handler, error) {
	accepted, err := otel.Meter("storefront/email").Int64Counter("storefront.email.messages",
		metric.WithDescription("Messages handed to the mail sink, by result"),
	)
	if err != nil {
		return nil, err
	}

	return &Handler{
		accepted: accepted,
		logger:   logger,
	}, nil
}

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// validate returns the normalized recipient address.
func (m Message) validate() (string, string) {
	addr, err := mail.ParseAddress(strings.TrimSpace(m.To))
	if err != nil {
		return "", "invalid recipient"
	}
	if strings.TrimSpace(m.Subject) == "" {
		return "", "missing subject"
	}
	if strings.ContainsAny(m.Subject, "\r\n") {
		return "", "subject must be a single line"
	}
	return addr.Address, ""
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		h.reject(w, r, "invalid request body")
		return
	}

	to, problem := msg.validate()
	if problem != "" {
		h.reject(w, r, problem)
		return
	}

	id := uuid.NewString()
	h.accepted.Add(r.Context(), 1, metric.WithAttributes(attribute.String("result", "sent")))
	h.logger.Info("email sent", "message_id", id, "to", to, "subject", msg.Subject, "body_bytes", len(msg.Body))

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent", MessageID: id})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, reason string) {
	h.accepted.Add(r.Context(), 1, metric.WithAttributes(attribute.String("result", "rejected")))
	h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": reason})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
