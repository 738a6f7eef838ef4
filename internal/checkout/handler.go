package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/identity"
)

type Checkouter interface {
	Checkout(ctx context.Context, owner string, in Input) (*Receipt, error)
}

type Handler struct {
	workflow Checkouter
	identity identity.Provider
	logger   *slog.Logger
}

func NewHandler(workflow Checkouter, provider identity.Provider, logger *slog.Logger) *Handler {
	return &Handler{
		workflow: workflow,
		identity: provider,
		logger:   logger,
	}
}

type errorResponse struct {
	Error     string              `json:"error"`
	Phase     Phase               `json:"phase,omitempty"`
	Fields    []domain.FieldError `json:"fields,omitempty"`
	ProductID int64               `json:"product_id,omitempty"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	owner, err := h.identity.UserID(r)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	receipt, err := h.workflow.Checkout(r.Context(), owner, in)
	if err != nil {
		h.writeAbort(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) writeAbort(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}

	var abort *AbortError
	if errors.As(err, &abort) {
		resp.Phase = abort.Phase
		resp.Error = abort.Err.Error()
	}

	var invalid *domain.InvalidInputError
	var unavailable *domain.ProductUnavailableError

	switch {
	case errors.As(err, &invalid):
		resp.Error = domain.ErrInvalidCheckoutInput.Error()
		resp.Fields = invalid.Fields
		h.writeJSON(w, http.StatusBadRequest, resp)
	case errors.As(err, &unavailable):
		resp.ProductID = unavailable.ProductID
		h.writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, domain.ErrEmptyCart):
		h.writeJSON(w, http.StatusConflict, resp)
	default:
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error", Phase: resp.Phase})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
