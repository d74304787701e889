package voicebridge

import (
	"net/http"
	"time"
)

// Credential represents an authentication method for the model provider.
// Implementations must apply the appropriate authentication headers to HTTP requests.
type Credential interface{ apply(h http.Header) }

// APIKey implements Credential using Azure OpenAI API key authentication.
type APIKey string

// apply adds the API key to the request headers using the "api-key" header.
func (k APIKey) apply(h http.Header) {
	if k != "" {
		h.Set("api-key", string(k))
	}
}

// Bearer implements Credential using OAuth2 Bearer token authentication.
type Bearer string

// apply adds the Bearer token to the Authorization header.
func (b Bearer) apply(h http.Header) {
	if b != "" {
		h.Set("Authorization", "Bearer "+string(b))
	}
}

// DefaultAPIVersion is the pinned realtime sessions API version.
const DefaultAPIVersion = "2025-04-01-preview"

// DefaultModel is used when no deployment name is configured.
const DefaultModel = "gpt-realtime"

// Config holds all configuration options for running a realtime conversation.
type Config struct {
	// Endpoint is the base URL of the Azure OpenAI resource.
	// Format: https://{resource-name}.openai.azure.com
	// Required: Yes
	Endpoint string

	// Credential provides authentication for the sessions request.
	// Use APIKey for key-based auth or Bearer for token-based auth.
	// Required: Yes
	Credential Credential

	// Deployment is the name of the realtime-capable model deployment.
	// Used as the session model and for the alternate-path retry on 404.
	// Required: No (falls back to DefaultModel)
	Deployment string

	// Region is used to construct the realtime transport URL when the
	// sessions response does not include one.
	// Required: No
	Region string

	// APIVersion selects the sessions API version.
	// Required: No (defaults to DefaultAPIVersion)
	APIVersion string

	// Language is the expected input transcription language code.
	// Required: No (defaults to "ja")
	Language string

	// Instructions provide system-level guidance to the assistant.
	// Required: No
	Instructions string

	// SessionOptions is a raw JSON object of extra session options merged
	// into the negotiation request after sanitization. Tool and function
	// keys are rejected; transcription subkeys are filtered to a known
	// allow-list. Unrecognized entries are dropped with a diagnostic.
	// Required: No
	SessionOptions string

	// ResumeDelay is the pause between sending a function_call_output and
	// the follow-up response.create. Follow-ups sent immediately after a
	// function output are dropped by the transport.
	// Required: No (defaults to 500ms)
	ResumeDelay time.Duration

	// HTTPClient is used for the sessions request and SDP exchange.
	// Required: No (a client with sane timeouts is used if nil)
	HTTPClient *http.Client

	// Logger is called for significant events and can be used for debugging
	// and monitoring. The fields parameter carries structured data.
	// Required: No (if nil, no logging occurs)
	Logger func(event string, fields map[string]any)

	// StructuredLogger provides structured logging with configurable levels.
	// If both Logger and StructuredLogger are provided, StructuredLogger
	// takes precedence. Use NewLogger() or NewLoggerFromEnv() to create one.
	// Required: No
	StructuredLogger *Logger
}

func (cfg Config) apiVersion() string {
	if cfg.APIVersion != "" {
		return cfg.APIVersion
	}
	return DefaultAPIVersion
}

func (cfg Config) model() string {
	if cfg.Deployment != "" {
		return cfg.Deployment
	}
	return DefaultModel
}

func (cfg Config) language() string {
	if cfg.Language != "" {
		return cfg.Language
	}
	return "ja"
}

func (cfg Config) resumeDelay() time.Duration {
	if cfg.ResumeDelay > 0 {
		return cfg.ResumeDelay
	}
	return 500 * time.Millisecond
}

func (cfg Config) httpClient() *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return &http.Client{Timeout: 20 * time.Second}
}

func (cfg Config) log(event string, fields map[string]any) {
	if cfg.StructuredLogger != nil {
		cfg.StructuredLogger.Info(event, fields)
	} else if cfg.Logger != nil {
		cfg.Logger(event, fields)
	}
}

func (cfg Config) logError(event string, fields map[string]any) {
	if cfg.StructuredLogger != nil {
		cfg.StructuredLogger.Error(event, fields)
	} else if cfg.Logger != nil {
		cfg.Logger("ERROR: "+event, fields)
	}
}

func (cfg Config) logWarn(event string, fields map[string]any) {
	if cfg.StructuredLogger != nil {
		cfg.StructuredLogger.Warn(event, fields)
	} else if cfg.Logger != nil {
		cfg.Logger("WARN: "+event, fields)
	}
}
