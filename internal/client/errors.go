package client

import (
	"errors"
	"fmt"
)

type Reason string

const (
	ReasonInvalidNumber       Reason = "Invalid phone number format"
	ReasonNotRegistered       Reason = "Phone number not registered on WhatsApp"
	ReasonRateLimited         Reason = "Rate limit exceeded"
	ReasonNetworkTimeout      Reason = "Network timeout"
	ReasonInsufficientBalance Reason = "Insufficient account balance"

	// ReasonUnexpected covers every attempt that did not end with one of
	// the reasons above.
	ReasonUnexpected Reason = "Unexpected error occurred"
)

// Reasons is the closed set a provider can report for a single recipient.
var Reasons = []Reason{
	ReasonInvalidNumber,
	ReasonNotRegistered,
	ReasonRateLimited,
	ReasonNetworkTimeout,
	ReasonInsufficientBalance,
}

// DeliveryError is a per-recipient failure with a known reason.
type DeliveryError struct {
	Reason Reason
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func Failure(r Reason) error {
	return &DeliveryError{Reason: r}
}

// ReasonOf maps any send error to the text recorded on the contact.
func ReasonOf(err error) string {
	var de *DeliveryError
	if errors.As(err, &de) {
		return string(de.Reason)
	}
	return string(ReasonUnexpected)
}
