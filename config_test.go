package voicebridge

import (
	"net/http"
	"testing"
	"time"
)

func TestAPIKey_apply(t *testing.T) {
	tests := []struct {
		name     string
		key      APIKey
		expected string
	}{
		{"valid key", APIKey("test-api-key"), "test-api-key"},
		{"empty key", APIKey(""), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			tt.key.apply(h)
			if got := h.Get("api-key"); got != tt.expected {
				t.Errorf("api-key header = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBearer_apply(t *testing.T) {
	tests := []struct {
		name     string
		token    Bearer
		expected string
	}{
		{"valid token", Bearer("tok"), "Bearer tok"},
		{"empty token", Bearer(""), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			tt.token.apply(h)
			if got := h.Get("Authorization"); got != tt.expected {
				t.Errorf("Authorization header = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	valid := Config{
		Endpoint:   "https://res.openai.azure.com",
		Credential: APIKey("k"),
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"http endpoint ok for testing", func(c *Config) { c.Endpoint = "http://localhost:8080" }, false},
		{"empty endpoint", func(c *Config) { c.Endpoint = "" }, true},
		{"missing protocol", func(c *Config) { c.Endpoint = "res.openai.azure.com" }, true},
		{"cognitive services endpoint", func(c *Config) { c.Endpoint = "https://res.cognitiveservices.azure.com" }, true},
		{"nil credential", func(c *Config) { c.Credential = nil }, true},
		{"negative resume delay", func(c *Config) { c.ResumeDelay = -time.Second }, true},
		{"positive resume delay", func(c *Config) { c.ResumeDelay = time.Second }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	if got := cfg.apiVersion(); got != DefaultAPIVersion {
		t.Errorf("apiVersion = %q", got)
	}
	if got := cfg.model(); got != DefaultModel {
		t.Errorf("model = %q", got)
	}
	if got := cfg.language(); got != "ja" {
		t.Errorf("language = %q", got)
	}
	if got := cfg.resumeDelay(); got != 500*time.Millisecond {
		t.Errorf("resumeDelay = %v", got)
	}
	if cfg.httpClient() == nil || cfg.httpClient().Timeout == 0 {
		t.Error("default http client should carry a timeout")
	}

	cfg = Config{Deployment: "d", Language: "en", APIVersion: "v", ResumeDelay: time.Second}
	if cfg.model() != "d" || cfg.language() != "en" || cfg.apiVersion() != "v" || cfg.resumeDelay() != time.Second {
		t.Error("explicit values should win over defaults")
	}
}

func TestConfig_LoggerPrecedence(t *testing.T) {
	var plain []string
	structured := NewLogger(LogLevelDebug)

	cfg := Config{Logger: func(event string, _ map[string]any) { plain = append(plain, event) }}
	cfg.log("one", nil)
	if len(plain) != 1 || plain[0] != "one" {
		t.Errorf("plain logger calls = %v", plain)
	}

	cfg.StructuredLogger = structured
	cfg.log("two", nil)
	if len(plain) != 1 {
		t.Error("structured logger should take precedence over plain logger")
	}

	// Warn and error paths prefix the event name for the plain logger.
	cfg2 := Config{Logger: func(event string, _ map[string]any) { plain = append(plain, event) }}
	cfg2.logWarn("w", nil)
	cfg2.logError("e", nil)
	if plain[1] != "WARN: w" || plain[2] != "ERROR: e" {
		t.Errorf("prefixed events = %v", plain[1:])
	}
}
