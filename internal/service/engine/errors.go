package engine

import (
	"github.com/davidleathers/plugin-event-delivery/internal/domain/errors"
)

var (
	// ErrSubscriptionNotFound is returned for operations on unknown subscription ids
	ErrSubscriptionNotFound = &errors.AppError{
		Type:    errors.ErrorTypeNotFound,
		Code:    "SUBSCRIPTION_NOT_FOUND",
		Message: "subscription not found",
	}

	// ErrAlreadyRegistered is returned when a subscription id is registered twice
	ErrAlreadyRegistered = errors.NewConflictError("ALREADY_REGISTERED", "subscription already registered")

	// ErrInvalidConfig is returned by NewEngine for unusable configuration
	ErrInvalidConfig = errors.NewValidationError("INVALID_ENGINE_CONFIG", "invalid engine configuration")
)

func subscriptionNotFound(id string) error {
	return ErrSubscriptionNotFound.WithDetails(map[string]interface{}{"subscription_id": id})
}

// Backpressure admission errors
var (
	ErrBufferOverflow = &BackpressureError{Code: "BP002", Message: "Queue buffer overflow"}
	ErrDroppedNewest  = &BackpressureError{Code: "BP003", Message: "Queue full, newest event dropped"}
	ErrCustomRejected = &BackpressureError{Code: "BP004", Message: "Custom backpressure handler rejected event"}
)

// BackpressureError represents a backpressure-specific error
type BackpressureError struct {
	Code    string
	Message string
}

func (e *BackpressureError) Error() string {
	return e.Code + ": " + e.Message
}
