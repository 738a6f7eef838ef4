package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/identity"
)

type Handler struct {
	storefrontProxy *ServiceProxy
	identity        identity.Provider
	logger          *slog.Logger
}

func NewHandler(storefrontProxy *ServiceProxy, provider identity.Provider, logger *slog.Logger) *Handler {
	return &Handler{
		storefrontProxy: storefrontProxy,
		identity:        provider,
		logger:          logger,
	}
}

// HandlePublic proxies catalog reads, which need no user.
func (h *Handler) HandlePublic(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.storefrontProxy, r.URL.Path)
}

// HandleUser proxies cart, checkout and order routes. The request must
// carry a user; it is forwarded to the storefront as is.
func (h *Handler) HandleUser(w http.ResponseWriter, r *http.Request) {
	if _, err := h.identity.UserID(r); err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	h.proxyRequest(w, r, h.storefrontProxy, r.URL.Path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
