package cart

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/identity"
)

type Handler struct {
	service  *Service
	identity identity.Provider
	logger   *slog.Logger
}

func NewHandler(service *Service, provider identity.Provider, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		identity: provider,
		logger:   logger,
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	view, err := h.service.List(r.Context(), owner)
	if err != nil {
		h.fail(w, err, "failed to list cart", "user_id", owner)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleCount(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	count, err := h.service.ItemCount(r.Context(), owner)
	if err != nil {
		h.fail(w, err, "failed to count cart items", "user_id", owner)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

type addItemRequest struct {
	ProductID *int64 `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == nil {
		h.writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}
	productID := *req.ProductID

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	if err := h.service.Add(r.Context(), owner, productID, quantity); err != nil {
		h.fail(w, err, "failed to add cart item", "user_id", owner, "product_id", productID)
		return
	}

	h.logger.Info("cart item added", "user_id", owner, "product_id", productID, "quantity", quantity)
	h.writeCount(w, r, owner, http.StatusOK)
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *Handler) HandleSetQuantity(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	productID, err := strconv.ParseInt(r.PathValue("productId"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity == nil {
		h.writeError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	if err := h.service.SetQuantity(r.Context(), owner, productID, *req.Quantity); err != nil {
		h.fail(w, err, "failed to set cart item quantity", "user_id", owner, "product_id", productID)
		return
	}

	h.writeCount(w, r, owner, http.StatusOK)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	productID, err := strconv.ParseInt(r.PathValue("productId"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if err := h.service.Remove(r.Context(), owner, productID); err != nil {
		h.fail(w, err, "failed to remove cart item", "user_id", owner, "product_id", productID)
		return
	}

	h.writeCount(w, r, owner, http.StatusOK)
}

func (h *Handler) writeCount(w http.ResponseWriter, r *http.Request, owner string, status int) {
	count, err := h.service.ItemCount(r.Context(), owner)
	if err != nil {
		h.fail(w, err, "failed to count cart items", "user_id", owner)
		return
	}
	h.writeJSON(w, status, map[string]int{"count": count})
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, err := h.identity.UserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return "", false
	}
	return owner, true
}

func (h *Handler) fail(w http.ResponseWriter, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, domain.ErrProductUnavailable):
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.logger.Error(msg, append(args, "error", err)...)
	h.writeError(w, http.StatusInternalServerError, "internal server error")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
