package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBaseError(t *testing.T) {
	t.Run("creates error with all fields", func(t *testing.T) {
		cause := errors.New("underlying error")
		metadata := map[string]any{"key": "value"}

		err := NewBaseError("test", "test_code", "test message", true, cause, metadata)

		if err.Domain() != "test" {
			t.Errorf("expected domain 'test', got '%s'", err.Domain())
		}
		if err.Code() != "test_code" {
			t.Errorf("expected code 'test_code', got '%s'", err.Code())
		}
		if err.Message() != "test message" {
			t.Errorf("expected message 'test message', got '%s'", err.Message())
		}
		if !err.Retryable() {
			t.Error("expected error to be retryable")
		}
		if err.Unwrap() != cause {
			t.Error("expected error to wrap cause")
		}
		if err.Metadata()["key"] != "value" {
			t.Error("expected metadata to be preserved")
		}
		if err.Timestamp().IsZero() {
			t.Error("expected timestamp to be set")
		}
	})

	t.Run("formats error message correctly", func(t *testing.T) {
		tests := []struct {
			name     string
			cause    error
			expected string
		}{
			{
				name:     "without cause",
				cause:    nil,
				expected: "[test:test_code] test message",
			},
			{
				name:     "with cause",
				cause:    errors.New("underlying"),
				expected: "[test:test_code] test message: underlying",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := NewBaseError("test", "test_code", "test message", false, tt.cause, nil)
				if err.Error() != tt.expected {
					t.Errorf("expected '%s', got '%s'", tt.expected, err.Error())
				}
			})
		}
	})

	t.Run("WithMetadata leaves the original untouched", func(t *testing.T) {
		original := NewBaseError("test", "test_code", "test message", false, nil, nil)
		derived := original.WithMetadata("key1", "value1").WithMetadata("key2", 42)

		if derived.Metadata()["key1"] != "value1" {
			t.Errorf("expected key1='value1', got '%v'", derived.Metadata()["key1"])
		}
		if derived.Metadata()["key2"] != 42 {
			t.Errorf("expected key2=42, got '%v'", derived.Metadata()["key2"])
		}
		if len(original.Metadata()) != 0 {
			t.Errorf("original metadata was mutated: %v", original.Metadata())
		}
	})
}

func TestDomainErrorConstructors(t *testing.T) {
	tests := []struct {
		name        string
		constructor func(string, string, bool, error) DomainError
		domain      string
	}{
		{name: "NewAuthError", constructor: NewAuthError, domain: DomainAuth},
		{name: "NewNodeError", constructor: NewNodeError, domain: DomainNode},
		{name: "NewProvisioningError", constructor: NewProvisioningError, domain: DomainProvisioning},
		{name: "NewTunnelError", constructor: NewTunnelError, domain: DomainTunnel},
		{name: "NewGatewayError", constructor: NewGatewayError, domain: DomainGateway},
		{name: "NewDatabaseError", constructor: NewDatabaseError, domain: DomainDatabase},
		{name: "NewSystemError", constructor: NewSystemError, domain: DomainSystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor("test_code", "test message", true, nil)

			if err.Domain() != tt.domain {
				t.Errorf("expected domain '%s', got '%s'", tt.domain, err.Domain())
			}
			if err.Code() != "test_code" {
				t.Errorf("expected code 'test_code', got '%s'", err.Code())
			}
			if !err.Retryable() {
				t.Error("expected error to be retryable")
			}
		})
	}

	t.Run("NewCryptoError is never retryable", func(t *testing.T) {
		err := NewCryptoError(ErrCodeRandomnessUnavailable, "rng", nil)
		if err.Retryable() {
			t.Error("crypto errors must not be retryable")
		}
		if err.Domain() != DomainCrypto {
			t.Errorf("expected domain '%s', got '%s'", DomainCrypto, err.Domain())
		}
	})
}

func TestHelperFunctions(t *testing.T) {
	t.Run("IsDomainError", func(t *testing.T) {
		domainErr := NewNodeError("test", "test", false, nil)
		regularErr := errors.New("regular error")

		if !IsDomainError(domainErr) {
			t.Error("expected IsDomainError to return true for domain error")
		}
		if !IsDomainError(fmt.Errorf("wrapped: %w", domainErr)) {
			t.Error("expected IsDomainError to see through wrapping")
		}
		if IsDomainError(regularErr) {
			t.Error("expected IsDomainError to return false for regular error")
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		retryableErr := NewTunnelError("test", "test", true, nil)
		nonRetryableErr := NewTunnelError("test", "test", false, nil)
		regularErr := errors.New("regular error")

		if !IsRetryable(retryableErr) {
			t.Error("expected IsRetryable to return true for retryable error")
		}
		if IsRetryable(nonRetryableErr) {
			t.Error("expected IsRetryable to return false for non-retryable error")
		}
		if IsRetryable(regularErr) {
			t.Error("expected IsRetryable to return false for regular error")
		}
	})

	t.Run("GetErrorCode and GetErrorDomain", func(t *testing.T) {
		domainErr := NewNodeError("test_code", "test", false, nil)
		regularErr := errors.New("regular error")

		if GetErrorCode(domainErr) != "test_code" {
			t.Errorf("expected 'test_code', got '%s'", GetErrorCode(domainErr))
		}
		if GetErrorCode(regularErr) != "unknown" {
			t.Errorf("expected 'unknown', got '%s'", GetErrorCode(regularErr))
		}
		if GetErrorDomain(domainErr) != DomainNode {
			t.Errorf("expected '%s', got '%s'", DomainNode, GetErrorDomain(domainErr))
		}
		if GetErrorDomain(regularErr) != "unknown" {
			t.Errorf("expected 'unknown', got '%s'", GetErrorDomain(regularErr))
		}
	})

	t.Run("IsErrorCode walks causes", func(t *testing.T) {
		rng := NewCryptoError(ErrCodeRandomnessUnavailable, "rng failed", nil)
		keygen := NewProvisioningError(ErrCodeKeyGenFailure, "key generation failed", false, rng)
		wrappedErr := fmt.Errorf("provision: %w", keygen)

		if !IsErrorCode(wrappedErr, ErrCodeKeyGenFailure) {
			t.Error("expected IsErrorCode to find keygen_failure")
		}
		if !IsErrorCode(wrappedErr, ErrCodeRandomnessUnavailable) {
			t.Error("expected IsErrorCode to find the cause code")
		}
		if IsErrorCode(wrappedErr, ErrCodeServerRejected) {
			t.Error("expected IsErrorCode to return false for non-matching code")
		}
	})
}

func TestHTTPMetadata(t *testing.T) {
	base := NewProvisioningError(ErrCodeServerRejected, "gateway rejected client", false, nil)
	err := fmt.Errorf("provision: %w", WithHTTP(base, 400, "name too long"))

	if got := HTTPStatus(err); got != 400 {
		t.Errorf("expected status 400, got %d", got)
	}
	if got := ServerMessage(err); got != "name too long" {
		t.Errorf("expected server message, got %q", got)
	}

	noMsg := WithHTTP(base, 502, "")
	if _, ok := noMsg.Metadata()[MetaServerMessage]; ok {
		t.Error("empty server message should not be recorded")
	}
	if HTTPStatus(errors.New("plain")) != 0 {
		t.Error("plain errors carry no status")
	}
}

func TestWrapWithDomain(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := WrapWithDomain(originalErr, "test", "test_code", "wrapped message", true)

	if wrappedErr.Domain() != "test" {
		t.Errorf("expected domain 'test', got '%s'", wrappedErr.Domain())
	}
	if !errors.Is(wrappedErr, originalErr) {
		t.Error("expected wrapped error to contain original error")
	}
}

func TestErrorTimestamp(t *testing.T) {
	before := time.Now()
	err := NewNodeError("test", "test", false, nil)
	after := time.Now()

	timestamp := err.Timestamp()
	if timestamp.Before(before) || timestamp.After(after) {
		t.Errorf("timestamp should be between %v and %v, got %v", before, after, timestamp)
	}
}
