// Package errors provides the standardized error taxonomy for billing.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Gateway transport or validation failure: network error or non-success status.
	ErrCodeGatewayTransportFailed ErrorCode = "GATEWAY_TRANSPORT_FAILED"
	// Gateway answered but refused the operation.
	ErrCodeGatewayRejected ErrorCode = "GATEWAY_REJECTED"

	ErrCodeNotificationMalformed ErrorCode = "NOTIFICATION_MALFORMED"
	ErrCodeChargeDeclined        ErrorCode = "CHARGE_DECLINED"
	ErrCodeAccessSyncFailed      ErrorCode = "ACCESS_SYNC_FAILED"

	ErrCodeStoreConflict    ErrorCode = "STORE_CONFLICT"
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeNotFound         ErrorCode = "RESOURCE_NOT_FOUND"

	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"
	ErrCodeUnknown       ErrorCode = "UNKNOWN_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewGatewayTransportError wraps a network or HTTP-status failure talking
// to the payment gateway.
func NewGatewayTransportError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayTransportFailed,
		Message:   fmt.Sprintf("Gateway %s request failed", operation),
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewGatewayRejectedError reports a well-formed refusal from the gateway.
func NewGatewayRejectedError(operation, reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayRejected,
		Message:   fmt.Sprintf("Gateway rejected %s", operation),
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotificationMalformedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationMalformed,
		Message:   "Payment notification is malformed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewChargeDeclinedError records a business failure of a recurring charge.
func NewChargeDeclinedError(reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeChargeDeclined,
		Message:   "Recurring charge declined",
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewAccessSyncError(action string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAccessSyncFailed,
		Message:   fmt.Sprintf("Access synchronizer %s failed", action),
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewStoreConflictError(userID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreConflict,
		Message:   "Subscription changed concurrently",
		Details:   fmt.Sprintf("userId: %d", userID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewStoreUnavailableError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   fmt.Sprintf("Subscription store %s failed", operation),
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewResourceNotFoundError(resource, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewConfigInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigInvalid,
		Message:   "Configuration is invalid",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Classification
// ==========================

// CodeOf returns the ErrorCode carried by err, or ErrCodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeUnknown
}

// IsRetryable reports whether err is a StandardError marked retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// Category returns a low-cardinality label for metrics.
func Category(err error) string {
	switch CodeOf(err) {
	case "":
		return "none"
	case ErrCodeGatewayTransportFailed, ErrCodeGatewayRejected:
		return "gateway"
	case ErrCodeNotificationMalformed:
		return "notification"
	case ErrCodeChargeDeclined:
		return "business"
	case ErrCodeAccessSyncFailed:
		return "access"
	case ErrCodeStoreConflict, ErrCodeStoreUnavailable, ErrCodeNotFound:
		return "store"
	case ErrCodeConfigInvalid:
		return "config"
	}
	return "unknown"
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
