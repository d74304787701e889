package voicebridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSessionsURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
	}{
		{
			"plain resource endpoint",
			"https://res.openai.azure.com",
			"https://res.openai.azure.com/openai/realtimeapi/sessions?api-version=2025-04-01-preview",
		},
		{
			"trailing slash",
			"https://res.openai.azure.com/",
			"https://res.openai.azure.com/openai/realtimeapi/sessions?api-version=2025-04-01-preview",
		},
		{
			"openai segment already present",
			"https://res.openai.azure.com/openai",
			"https://res.openai.azure.com/openai/realtimeapi/sessions?api-version=2025-04-01-preview",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sessionsURL(tt.endpoint, DefaultAPIVersion); got != tt.want {
				t.Errorf("sessionsURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNegotiateSession_Success(t *testing.T) {
	var gotBody map[string]any
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"id":"sess1","client_secret":{"value":"eph-key"},"sessionUrl":"https://rt.example/v1"}`))
	}))
	defer srv.Close()

	cfg := Config{
		Endpoint:     srv.URL,
		Credential:   APIKey("test-key"),
		Deployment:   "gpt-realtime",
		Instructions: "be helpful",
	}
	tools := []map[string]any{{"type": "function", "name": "list_locations"}}

	desc, err := NegotiateSession(context.Background(), cfg, tools)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if desc.EphemeralKey != "eph-key" {
		t.Errorf("ephemeral key = %q", desc.EphemeralKey)
	}
	if desc.RealtimeURL != "https://rt.example/v1" {
		t.Errorf("realtime url = %q", desc.RealtimeURL)
	}
	if gotKey != "test-key" {
		t.Errorf("api-key header = %q", gotKey)
	}
	if gotBody["model"] != "gpt-realtime" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["instructions"] != "be helpful" {
		t.Errorf("instructions = %v", gotBody["instructions"])
	}
	trans, _ := gotBody["input_audio_transcription"].(map[string]any)
	if trans["language"] != "ja" {
		t.Errorf("default language = %v", trans["language"])
	}
	sentTools, _ := gotBody["tools"].([]any)
	if len(sentTools) != 1 {
		t.Errorf("tools = %v", gotBody["tools"])
	}
}

func TestNegotiateSession_OptionsCannotOverrideTools(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"client_secret":{"value":"k"}}`))
	}))
	defer srv.Close()

	cfg := Config{
		Endpoint:   srv.URL,
		Credential: APIKey("k"),
		SessionOptions: `{
			"voice": "verse",
			"tools": [{"type":"function","name":"evil"}],
			"functions": [{"name":"evil"}],
			"mcp": {"x": 1},
			"dropped_null": null,
			"input_audio_transcription": {"model":"whisper-1","prompt":"hi","unknown_subkey":"x"}
		}`,
	}
	tools := []map[string]any{{"type": "function", "name": "real_tool"}}

	if _, err := NegotiateSession(context.Background(), cfg, tools); err != nil {
		t.Fatalf("negotiate: %v", err)
	}

	if gotBody["voice"] != "verse" {
		t.Errorf("benign option dropped: %v", gotBody["voice"])
	}
	sentTools, _ := gotBody["tools"].([]any)
	if len(sentTools) != 1 {
		t.Fatalf("tools = %v", gotBody["tools"])
	}
	if m, _ := sentTools[0].(map[string]any); m["name"] != "real_tool" {
		t.Errorf("registered tools were overridden: %v", sentTools)
	}
	if _, ok := gotBody["functions"]; ok {
		t.Error("functions key must never pass through")
	}
	if _, ok := gotBody["mcp"]; ok {
		t.Error("mcp key must never pass through")
	}
	if _, ok := gotBody["dropped_null"]; ok {
		t.Error("null values must be dropped")
	}
	trans, _ := gotBody["input_audio_transcription"].(map[string]any)
	if trans["model"] != "whisper-1" || trans["prompt"] != "hi" {
		t.Errorf("allowed transcription subkeys lost: %v", trans)
	}
	if _, ok := trans["unknown_subkey"]; ok {
		t.Error("unknown transcription subkey must be filtered")
	}
}

func TestSanitizeSessionOptions(t *testing.T) {
	safe, dropped := sanitizeSessionOptions(map[string]any{
		"tools":     []any{},
		"functions": "x",
		"mcp":       1,
		"voice":     "verse",
		"nothing":   nil,
		"transcription": map[string]any{
			"language": "en",
			"secret":   "no",
		},
	})
	if safe["voice"] != "verse" {
		t.Errorf("safe = %v", safe)
	}
	sub, _ := safe["transcription"].(map[string]any)
	if sub["language"] != "en" || len(sub) != 1 {
		t.Errorf("transcription = %v", sub)
	}
	// Dropped keys are reported sorted for stable diagnostics.
	want := []string{"functions", "mcp", "nothing", "tools"}
	if len(dropped) != len(want) {
		t.Fatalf("dropped = %v", dropped)
	}
	for i, k := range want {
		if dropped[i] != k {
			t.Errorf("dropped[%d] = %q, want %q", i, dropped[i], k)
		}
	}
}

func TestNegotiateSession_404Fallback(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/openai/realtimeapi/sessions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "my-deploy" {
			t.Errorf("fallback body model = %v", body["model"])
		}
		_, _ = w.Write([]byte(`{"client_secret":{"value":"fallback-key"}}`))
	}))
	defer srv.Close()

	cfg := Config{Endpoint: srv.URL, Credential: APIKey("k"), Deployment: "my-deploy"}
	desc, err := NegotiateSession(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("negotiate with fallback: %v", err)
	}
	if desc.EphemeralKey != "fallback-key" {
		t.Errorf("ephemeral key = %q", desc.EphemeralKey)
	}
	if len(paths) != 2 || paths[1] != "/openai/deployments/my-deploy/realtime" {
		t.Errorf("paths = %v", paths)
	}
}

func TestNegotiateSession_404NoDeploymentNoFallback(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := Config{Endpoint: srv.URL, Credential: APIKey("k")}
	_, err := NegotiateSession(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected upstream error")
	}
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
	if hits != 1 {
		t.Errorf("hits = %d, fallback needs a configured deployment", hits)
	}
}

func TestNegotiateSession_FallbackAlsoFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openai/realtimeapi/sessions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "also broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := Config{Endpoint: srv.URL, Credential: APIKey("k"), Deployment: "d"}
	_, err := NegotiateSession(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Status != http.StatusNotFound {
		t.Errorf("primary status = %d", ue.Status)
	}
	if ue.Fallback == nil {
		t.Error("fallback failure must be recorded")
	}
}

func TestNegotiateSession_InvalidConfig(t *testing.T) {
	_, err := NegotiateSession(context.Background(), Config{}, nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestParseSessionResponse_Variants(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantKey string
		wantURL string
	}{
		{"client_secret.value", `{"client_secret":{"value":"a"}}`, "a", ""},
		{"client_secret.secret", `{"client_secret":{"secret":"b"}}`, "b", ""},
		{"flat client_secret_value", `{"client_secret_value":"c"}`, "c", ""},
		{"string client_secret", `{"client_secret":"d"}`, "d", ""},
		{"sessionUrl", `{"client_secret":{"value":"a"},"sessionUrl":"u1"}`, "a", "u1"},
		{"joinUrl", `{"client_secret":{"value":"a"},"joinUrl":"u2"}`, "a", "u2"},
		{"realtimeUrl", `{"client_secret":{"value":"a"},"realtimeUrl":"u3"}`, "a", "u3"},
		{"no credential", `{"id":"x"}`, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := parseSessionResponse(tt.body)
			if desc.EphemeralKey != tt.wantKey {
				t.Errorf("key = %q, want %q", desc.EphemeralKey, tt.wantKey)
			}
			if desc.RealtimeURL != tt.wantURL {
				t.Errorf("url = %q, want %q", desc.RealtimeURL, tt.wantURL)
			}
		})
	}
}

func TestParseSessionResponse_NonJSON(t *testing.T) {
	desc := parseSessionResponse("<html>gateway error</html>")
	if desc.EphemeralKey != "" {
		t.Errorf("key = %q", desc.EphemeralKey)
	}
	if desc.Raw["body"] != "<html>gateway error</html>" {
		t.Errorf("raw = %v", desc.Raw)
	}
}
