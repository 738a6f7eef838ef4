package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// Failure marks err as an infrastructure failure of op.
func Failure(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageFailure, err)
}

// Code returns the Postgres SQLSTATE carried by err, or "" if there is none.
func Code(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
