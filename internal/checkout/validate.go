package checkout

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/joao-fontenele/storefront/internal/domain"
)

const (
	maxNameLen    = 100
	maxPhoneLen   = 20
	maxAddressLen = 200
	maxNotesLen   = 500
	minDigits     = 7
	maxDigits     = 15
)

var phonePattern = regexp.MustCompile(`^\+?[0-9()\-. ]+$`)

// Input is the delivery information a customer supplies at checkout.
type Input struct {
	CustomerName    string  `json:"customer_name"`
	PhoneNumber     string  `json:"phone_number"`
	DeliveryAddress string  `json:"delivery_address"`
	Notes           *string `json:"notes,omitempty"`
}

// normalize trims every field and drops blank notes.
func (in Input) normalize() Input {
	out := Input{
		CustomerName:    strings.TrimSpace(in.CustomerName),
		PhoneNumber:     strings.TrimSpace(in.PhoneNumber),
		DeliveryAddress: strings.TrimSpace(in.DeliveryAddress),
	}
	if in.Notes != nil {
		if notes := strings.TrimSpace(*in.Notes); notes != "" {
			out.Notes = &notes
		}
	}
	return out
}

// Validate reports every offending field at once.
func (in Input) Validate() error {
	var fields []domain.FieldError
	add := func(field, msg string) {
		fields = append(fields, domain.FieldError{Field: field, Message: msg})
	}

	switch {
	case in.CustomerName == "":
		add("customer_name", "is required")
	case utf8.RuneCountInString(in.CustomerName) > maxNameLen:
		add("customer_name", "must be at most 100 characters")
	}

	switch {
	case in.PhoneNumber == "":
		add("phone_number", "is required")
	case len(in.PhoneNumber) > maxPhoneLen:
		add("phone_number", "must be at most 20 characters")
	case !validPhone(in.PhoneNumber):
		add("phone_number", "is not a valid phone number")
	}

	switch {
	case in.DeliveryAddress == "":
		add("delivery_address", "is required")
	case utf8.RuneCountInString(in.DeliveryAddress) > maxAddressLen:
		add("delivery_address", "must be at most 200 characters")
	}

	if in.Notes != nil && utf8.RuneCountInString(*in.Notes) > maxNotesLen {
		add("notes", "must be at most 500 characters")
	}

	if len(fields) > 0 {
		return &domain.InvalidInputError{Fields: fields}
	}
	return nil
}

func validPhone(s string) bool {
	if !phonePattern.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minDigits && digits <= maxDigits
}
