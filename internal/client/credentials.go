package client

import (
	"errors"
	"strings"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

const (
	tokenPrefix = "EAA"
	minIDLength = 15
)

var (
	ErrBearerTokenRequired       = errors.New("bearer token is required")
	ErrPhoneIDRequired           = errors.New("phone ID is required")
	ErrBusinessAccountIDRequired = errors.New("business account ID is required")
	ErrBearerTokenFormat         = errors.New("bearer token must start with " + tokenPrefix)
	ErrPhoneIDFormat             = errors.New("phone ID is too short")
	ErrBusinessAccountIDFormat   = errors.New("business account ID is too short")
)

// ValidateCredentials checks the bundle shape the provider accepts. All
// problems are reported together.
func ValidateCredentials(c model.Credentials) error {
	var errs []error

	token := strings.TrimSpace(c.BearerToken)
	phoneID := strings.TrimSpace(c.PhoneID)
	accountID := strings.TrimSpace(c.BusinessAccountID)

	switch {
	case token == "":
		errs = append(errs, ErrBearerTokenRequired)
	case !strings.HasPrefix(token, tokenPrefix):
		errs = append(errs, ErrBearerTokenFormat)
	}

	switch {
	case phoneID == "":
		errs = append(errs, ErrPhoneIDRequired)
	case len(phoneID) < minIDLength:
		errs = append(errs, ErrPhoneIDFormat)
	}

	switch {
	case accountID == "":
		errs = append(errs, ErrBusinessAccountIDRequired)
	case len(accountID) < minIDLength:
		errs = append(errs, ErrBusinessAccountIDFormat)
	}

	return errors.Join(errs...)
}
