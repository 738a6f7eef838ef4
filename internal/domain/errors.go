package domain

import (
	"errors"
	"fmt"
	"strings"
)

// MaxLineQuantity bounds a single cart line.
const MaxLineQuantity = 999

var (
	ErrInvalidQuantity      = fmt.Errorf("quantity must be between 1 and %d", MaxLineQuantity)
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidCheckoutInput = errors.New("invalid checkout input")
	ErrProductUnavailable   = errors.New("product unavailable")
	ErrStorageFailure       = errors.New("storage failure")
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// FieldError names one offending checkout field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type InvalidInputError struct {
	Fields []FieldError
}

func (e *InvalidInputError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidCheckoutInput, strings.Join(parts, "; "))
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidCheckoutInput
}

type ProductUnavailableError struct {
	ProductID int64
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("%s: %d", ErrProductUnavailable, e.ProductID)
}

func (e *ProductUnavailableError) Is(target error) bool {
	return target == ErrProductUnavailable
}

// IsUserError reports whether err is something the caller can correct,
// as opposed to an infrastructure failure.
func IsUserError(err error) bool {
	switch {
	case errors.Is(err, ErrStorageFailure):
		return false
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrInvalidCheckoutInput),
		errors.Is(err, ErrProductUnavailable),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition):
		return true
	}
	return false
}
