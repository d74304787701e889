package voicebridge

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Common error variables
var (
	// ErrInvalidConfig is returned when required configuration fields are
	// missing or malformed. Configuration errors are fatal; there is no retry.
	ErrInvalidConfig = errors.New("voicebridge: invalid configuration")

	// ErrUpstream is returned when the provider rejects session negotiation
	// after the documented fallback attempt has also been tried.
	ErrUpstream = errors.New("voicebridge: upstream negotiation failed")

	// ErrMediaAccess is returned when no local audio input can be acquired.
	ErrMediaAccess = errors.New("voicebridge: media access failed")

	// ErrNoCredential is returned when the session descriptor carries no
	// ephemeral credential.
	ErrNoCredential = errors.New("voicebridge: no ephemeral credential")

	// ErrNoTarget is returned when no realtime URL was provided and one
	// cannot be constructed from region and deployment configuration.
	ErrNoTarget = errors.New("voicebridge: no realtime target")

	// ErrNegotiationFailed is returned when the SDP offer/answer exchange
	// with the realtime endpoint fails.
	ErrNegotiationFailed = errors.New("voicebridge: transport negotiation failed")

	// ErrChannelMissing is returned when a send is attempted with no event
	// channel reference at all.
	ErrChannelMissing = errors.New("voicebridge: event channel missing")

	// ErrChannelTimeout is returned when the event channel never becomes
	// open within the bounded wait.
	ErrChannelTimeout = errors.New("voicebridge: event channel not open (timeout)")

	// ErrClosed is returned when attempting to use a channel that has been closed.
	ErrClosed = errors.New("voicebridge: channel is closed")
)

// ConfigError represents a configuration validation error.
// It provides detailed information about which configuration field is invalid.
type ConfigError struct {
	Field   string // The configuration field that is invalid
	Value   string // The invalid value (if safe to log)
	Message string // Detailed error message
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("voicebridge: invalid config field %q (value: %q): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("voicebridge: invalid config field %q: %s", e.Field, e.Message)
}

// Is implements error matching for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// UpstreamError represents a rejected session negotiation request.
// When the primary sessions URL returned 404 and a deployment-scoped
// fallback URL was also tried, Fallback carries that second failure.
type UpstreamError struct {
	URL      string // The sessions URL that was called
	Status   int    // HTTP status returned by the provider (0 for transport errors)
	Body     string // Response body text, if any
	Cause    error  // Underlying transport error, if any
	Fallback error  // Failure of the alternate-path retry, if one was made
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("voicebridge: sessions request to %q failed", e.URL)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d: %s", msg, e.Status, e.Body)
	} else if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Fallback != nil {
		msg = fmt.Sprintf("%s (fallback attempt: %v)", msg, e.Fallback)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *UpstreamError) Unwrap() error { return e.Cause }

// Is implements error matching for UpstreamError.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// MediaError represents a failure to acquire or start the local audio input.
type MediaError struct {
	Operation string // The operation that failed (e.g., "acquire", "start")
	Cause     error  // The underlying error
}

func (e *MediaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("voicebridge: media %s failed: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("voicebridge: media %s failed", e.Operation)
}

// Unwrap returns the underlying error.
func (e *MediaError) Unwrap() error { return e.Cause }

// Is implements error matching for MediaError.
func (e *MediaError) Is(target error) bool { return target == ErrMediaAccess }

// NegotiationError represents a failed SDP offer/answer exchange with the
// realtime transport endpoint.
type NegotiationError struct {
	URL    string // The realtime URL the offer was sent to
	Status int    // HTTP status of the exchange (0 for transport errors)
	Body   string // Response body text, if any
	Cause  error  // The underlying error
}

func (e *NegotiationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("voicebridge: SDP exchange with %q failed: status %d: %s", e.URL, e.Status, e.Body)
	}
	return fmt.Sprintf("voicebridge: SDP exchange with %q failed: %v", e.URL, e.Cause)
}

// Unwrap returns the underlying error.
func (e *NegotiationError) Unwrap() error { return e.Cause }

// Is implements error matching for NegotiationError.
func (e *NegotiationError) Is(target error) bool { return target == ErrNegotiationFailed }

// SendError represents an error that occurred while sending a message over
// the event channel. The cause distinguishes a missing channel, an open
// timeout, a serialization failure, and transport-level write errors.
type SendError struct {
	MessageType string // The type of message being sent (e.g., "response.create")
	Cause       error  // The underlying error
}

func (e *SendError) Error() string {
	if e.MessageType != "" {
		return fmt.Sprintf("voicebridge: failed to send %s message: %v", e.MessageType, e.Cause)
	}
	return fmt.Sprintf("voicebridge: failed to send message: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *SendError) Unwrap() error { return e.Cause }

// IsTimeout returns true if the send failed because the channel never opened.
func (e *SendError) IsTimeout() bool { return errors.Is(e.Cause, ErrChannelTimeout) }

// Helper functions for creating specific errors

// NewConfigError creates a new configuration error.
func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Message: message}
}

// NewMediaError creates a new media access error.
func NewMediaError(operation string, cause error) *MediaError {
	return &MediaError{Operation: operation, Cause: cause}
}

// NewNegotiationError creates a new transport negotiation error.
func NewNegotiationError(url string, status int, body string, cause error) *NegotiationError {
	return &NegotiationError{URL: url, Status: status, Body: body, Cause: cause}
}

// NewSendError creates a new send error.
func NewSendError(messageType string, cause error) *SendError {
	return &SendError{MessageType: messageType, Cause: cause}
}

// Validation helper functions

// ValidateConfig performs comprehensive configuration validation.
func ValidateConfig(cfg Config) error {
	if cfg.Endpoint == "" {
		return NewConfigError("Endpoint", "", "cannot be empty")
	}

	lower := strings.ToLower(cfg.Endpoint)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return NewConfigError("Endpoint", cfg.Endpoint, "must include protocol (https://)")
	}

	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return NewConfigError("Endpoint", cfg.Endpoint, "invalid URL format")
	}

	// The realtime sessions API lives on the Azure OpenAI resource endpoint,
	// not on a Cognitive Services endpoint.
	if strings.Contains(lower, "cognitiveservices.azure.com") {
		return NewConfigError("Endpoint", cfg.Endpoint,
			"appears to be a Cognitive Services endpoint; use the Azure OpenAI resource endpoint (https://<name>.openai.azure.com)")
	}

	if cfg.Credential == nil {
		return NewConfigError("Credential", "", "cannot be nil")
	}

	if cfg.ResumeDelay < 0 {
		return NewConfigError("ResumeDelay", cfg.ResumeDelay.String(), "cannot be negative")
	}

	return nil
}
