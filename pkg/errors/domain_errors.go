package errors

import (
	"errors"
	"fmt"
	"time"
)

// DomainError is the base interface for all structured errors in the application
type DomainError interface {
	error

	// Domain returns the domain context (e.g., "auth", "node", "tunnel")
	Domain() string

	// Code returns a stable error code
	Code() string

	// Retryable indicates if the caller may re-invoke the operation
	Retryable() bool

	// Metadata returns additional error context
	Metadata() map[string]any

	// WithMetadata adds metadata to the error
	WithMetadata(key string, value any) DomainError

	// Timestamp returns when the error occurred
	Timestamp() time.Time
}

// BaseError is the foundational implementation of DomainError
type BaseError struct {
	domain    string
	code      string
	message   string
	cause     error
	retryable bool
	metadata  map[string]any
	timestamp time.Time
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.domain, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.domain, e.code, e.message)
}

func (e *BaseError) Unwrap() error            { return e.cause }
func (e *BaseError) Domain() string           { return e.domain }
func (e *BaseError) Code() string             { return e.code }
func (e *BaseError) Message() string          { return e.message }
func (e *BaseError) Retryable() bool          { return e.retryable }
func (e *BaseError) Metadata() map[string]any { return e.metadata }
func (e *BaseError) Timestamp() time.Time     { return e.timestamp }

// NewBaseError creates a new BaseError with the specified parameters
func NewBaseError(domain, code, message string, retryable bool, cause error, metadata map[string]any) *BaseError {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &BaseError{
		domain:    domain,
		code:      code,
		message:   message,
		cause:     cause,
		retryable: retryable,
		metadata:  metadata,
		timestamp: time.Now(),
	}
}

// WithMetadata returns a copy of the error with key set in its metadata.
// The receiver is left untouched so shared errors stay immutable.
func (e *BaseError) WithMetadata(key string, value any) DomainError {
	newMeta := make(map[string]any, len(e.metadata)+1)
	for k, v := range e.metadata {
		newMeta[k] = v
	}
	newMeta[key] = value

	return &BaseError{
		domain:    e.domain,
		code:      e.code,
		message:   e.message,
		cause:     e.cause,
		retryable: e.retryable,
		metadata:  newMeta,
		timestamp: e.timestamp,
	}
}

// Standardized Error Codes
const (
	// Auth Domain Errors
	ErrCodeOrgCreationFailed   = "org_creation_failed"
	ErrCodeMissingAPIKey       = "missing_api_key"
	ErrCodeTokenExchangeFailed = "token_exchange_failed"
	ErrCodeMissingToken        = "missing_token"

	// Node Domain Errors
	ErrCodeUnauthenticated   = "unauthenticated"
	ErrCodeNodeFetchFailed   = "node_fetch_failed"
	ErrCodeMalformedResponse = "malformed_response"
	ErrCodeNetworkFailure    = "network_failure"

	// Provisioning Domain Errors
	ErrCodeNodeNotSelected = "node_not_selected"
	ErrCodeKeyGenFailure   = "keygen_failure"
	ErrCodeServerRejected  = "server_rejected"

	// Tunnel Domain Errors
	ErrCodeNotReady           = "not_ready"
	ErrCodeInvalidKeyMaterial = "invalid_key_material"
	ErrCodeEngineFailure      = "engine_failure"
	ErrCodeTimeout            = "timeout"

	// Crypto Errors
	ErrCodeRandomnessUnavailable = "randomness_unavailable"

	// System Errors
	ErrCodeDatabase      = "database_error"
	ErrCodeConfiguration = "config_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeNotFound      = "not_found"
)

// Domain Constants
const (
	DomainAuth         = "auth"
	DomainNode         = "node"
	DomainProvisioning = "provisioning"
	DomainTunnel       = "tunnel"
	DomainCrypto       = "crypto"
	DomainGateway      = "gateway"
	DomainDatabase     = "database"
	DomainSystem       = "system"
)

// Metadata keys shared by the gateway-facing domains.
const (
	MetaHTTPStatus    = "http_status"
	MetaServerMessage = "server_message"
)

// Domain-specific error constructors

// NewAuthError creates a standardized auth domain error
func NewAuthError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainAuth, code, message, retryable, cause, nil)
}

// NewNodeError creates a standardized node domain error
func NewNodeError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainNode, code, message, retryable, cause, nil)
}

// NewProvisioningError creates a standardized provisioning error
func NewProvisioningError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainProvisioning, code, message, retryable, cause, nil)
}

// NewTunnelError creates a standardized tunnel error
func NewTunnelError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainTunnel, code, message, retryable, cause, nil)
}

// NewCryptoError creates a standardized crypto error
func NewCryptoError(code, message string, cause error) DomainError {
	return NewBaseError(DomainCrypto, code, message, false, cause, nil)
}

// NewGatewayError creates a standardized gateway transport error
func NewGatewayError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainGateway, code, message, retryable, cause, nil)
}

// NewDatabaseError creates a standardized database error
func NewDatabaseError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainDatabase, code, message, retryable, cause, nil)
}

// NewSystemError creates a standardized system error
func NewSystemError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainSystem, code, message, retryable, cause, nil)
}

// WithHTTP attaches the gateway status and message to err.
// An empty message is not recorded.
func WithHTTP(err DomainError, status int, message string) DomainError {
	err = err.WithMetadata(MetaHTTPStatus, status)
	if message != "" {
		err = err.WithMetadata(MetaServerMessage, message)
	}
	return err
}

// Helper functions for error checking

// IsDomainError checks if an error is a DomainError
func IsDomainError(err error) bool {
	var domainErr DomainError
	return errors.As(err, &domainErr)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if domainErr, ok := err.(DomainError); ok {
		return domainErr.Retryable()
	}
	return false
}

// GetErrorCode returns the error code if it's a DomainError, otherwise returns "unknown"
func GetErrorCode(err error) string {
	if domainErr, ok := err.(DomainError); ok {
		return domainErr.Code()
	}
	return "unknown"
}

// GetErrorDomain returns the error domain if it's a DomainError, otherwise returns "unknown"
func GetErrorDomain(err error) string {
	if domainErr, ok := err.(DomainError); ok {
		return domainErr.Domain()
	}
	return "unknown"
}

// HasErrorCode checks if an error has a specific error code
func HasErrorCode(err error, code string) bool {
	return GetErrorCode(err) == code
}

// IsErrorCode checks if any error in the chain has the specified code
func IsErrorCode(err error, code string) bool {
	for err != nil {
		if HasErrorCode(err, code) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// HTTPStatus returns the gateway status recorded anywhere in the chain, or 0.
func HTTPStatus(err error) int {
	for err != nil {
		if domainErr, ok := err.(DomainError); ok {
			if status, ok := domainErr.Metadata()[MetaHTTPStatus].(int); ok {
				return status
			}
		}
		err = errors.Unwrap(err)
	}
	return 0
}

// ServerMessage returns the gateway message recorded anywhere in the chain.
func ServerMessage(err error) string {
	for err != nil {
		if domainErr, ok := err.(DomainError); ok {
			if msg, ok := domainErr.Metadata()[MetaServerMessage].(string); ok {
				return msg
			}
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// WrapWithDomain wraps an existing error with domain context
func WrapWithDomain(err error, domain, code, message string, retryable bool) DomainError {
	return NewBaseError(domain, code, message, retryable, err, nil)
}
