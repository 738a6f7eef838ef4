// Package identity resolves the user a request acts for. Authentication
// happens upstream; the gateway forwards the authenticated user id.
package identity

import (
	"errors"
	"net/http"
	"strings"
)

const HeaderUserID = "X-User-ID"

var ErrUnauthenticated = errors.New("unauthenticated")

type Provider interface {
	UserID(r *http.Request) (string, error)
}

// HeaderProvider trusts the user id header set by the gateway.
type HeaderProvider struct {
	Header string
}

func NewHeaderProvider() HeaderProvider {
	return HeaderProvider{Header: HeaderUserID}
}

func (p HeaderProvider) UserID(r *http.Request) (string, error) {
	header := p.Header
	if header == "" {
		header = HeaderUserID
	}

	id := strings.TrimSpace(r.Header.Get(header))
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}
