package voicebridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// SessionDescriptor carries the short-lived credential and routing info
// needed to open the audio transport. It is created once per conversation,
// consumed immediately, and never reused across reconnects.
type SessionDescriptor struct {
	// EphemeralKey is the short-lived credential used as a bearer token in
	// the SDP exchange. Empty when the provider returned none.
	EphemeralKey string

	// RealtimeURL is the transport endpoint, when the provider supplied one
	// directly. Empty means the transport must construct it from region and
	// deployment configuration.
	RealtimeURL string

	// Raw is the provider's full response object.
	Raw map[string]any
}

// sessionsURL builds the realtime sessions URL. Endpoints are accepted with
// or without the /openai path segment already present.
func sessionsURL(endpoint, apiVersion string) string {
	trimmed := strings.TrimRight(endpoint, "/")
	if strings.Contains(trimmed, "/openai") {
		return fmt.Sprintf("%s/realtimeapi/sessions?api-version=%s", trimmed, apiVersion)
	}
	return fmt.Sprintf("%s/openai/realtimeapi/sessions?api-version=%s", trimmed, apiVersion)
}

// deploymentSessionsURL builds the older deployment-scoped path shape, used
// as a fallback when the primary sessions URL returns 404.
func deploymentSessionsURL(endpoint, deployment, apiVersion string) string {
	trimmed := strings.TrimRight(endpoint, "/")
	if strings.Contains(trimmed, "/openai") {
		return fmt.Sprintf("%s/deployments/%s/realtime?api-version=%s", trimmed, deployment, apiVersion)
	}
	return fmt.Sprintf("%s/openai/deployments/%s/realtime?api-version=%s", trimmed, deployment, apiVersion)
}

// NegotiateSession obtains a session descriptor from the provider. tools is
// the set of tool declarations the system registers for the conversation;
// caller-supplied session options can never override them. On a 404 with a
// configured deployment, one documented fallback attempt is made against the
// deployment-scoped path shape before the negotiation is declared failed.
func NegotiateSession(ctx context.Context, cfg Config, tools []map[string]any) (*SessionDescriptor, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	body := map[string]any{
		"model": cfg.model(),
		"input_audio_transcription": map[string]any{
			"model":    cfg.model(),
			"language": cfg.language(),
		},
	}
	if cfg.Instructions != "" {
		body["instructions"] = cfg.Instructions
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}
	mergeSessionOptions(cfg, body)

	target := sessionsURL(cfg.Endpoint, cfg.apiVersion())
	status, text, err := postSessionRequest(ctx, cfg, target, body)
	if err != nil {
		return nil, &UpstreamError{URL: target, Cause: err}
	}

	if status/100 != 2 {
		if status == http.StatusNotFound && cfg.Deployment != "" {
			alt := deploymentSessionsURL(cfg.Endpoint, cfg.Deployment, cfg.apiVersion())
			cfg.log("sessions_fallback", map[string]any{"url": alt})
			altStatus, altText, altErr := postSessionRequest(ctx, cfg, alt, map[string]any{"model": cfg.Deployment})
			if altErr != nil {
				return nil, &UpstreamError{URL: target, Status: status, Body: text, Fallback: altErr}
			}
			if altStatus/100 != 2 {
				return nil, &UpstreamError{
					URL: target, Status: status, Body: text,
					Fallback: fmt.Errorf("status %d: %s", altStatus, altText),
				}
			}
			return parseSessionResponse(altText), nil
		}
		return nil, &UpstreamError{URL: target, Status: status, Body: text}
	}

	return parseSessionResponse(text), nil
}

func postSessionRequest(ctx context.Context, cfg Config, target string, body map[string]any) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	cfg.Credential.apply(req.Header)

	resp, err := cfg.httpClient().Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(text), nil
}

// mergeSessionOptions merges caller-supplied raw session options into the
// request body after sanitization. Invalid JSON is ignored with a
// diagnostic; dropped keys are logged, never silently corrupting the request.
func mergeSessionOptions(cfg Config, body map[string]any) {
	if cfg.SessionOptions == "" {
		return
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(cfg.SessionOptions), &parsed); err != nil {
		cfg.logWarn("session_options_invalid_json", map[string]any{"raw": cfg.SessionOptions})
		return
	}
	safe, dropped := sanitizeSessionOptions(parsed)
	if len(dropped) > 0 {
		cfg.logWarn("session_options_dropped", map[string]any{"keys": dropped})
	}
	for k, v := range safe {
		body[k] = v
	}
}

// transcriptionOptionKeys are the only subkeys accepted for transcription
// configuration overrides.
var transcriptionOptionKeys = []string{"model", "language", "prompt"}

// forbiddenOptionKeys can never be overridden by caller-supplied options:
// the system registers its own tool declarations and letting configuration
// replace them would break tool dispatch.
var forbiddenOptionKeys = map[string]bool{
	"functions": true,
	"tools":     true,
	"mcp":       true,
}

// sanitizeSessionOptions filters a parsed options object down to the values
// the sessions API accepts, returning the safe subset and the dropped keys.
func sanitizeSessionOptions(opts map[string]any) (map[string]any, []string) {
	out := make(map[string]any)
	var dropped []string

	for k, v := range opts {
		switch {
		case forbiddenOptionKeys[k]:
			dropped = append(dropped, k)
		case k == "input_audio_transcription" || k == "transcription":
			sub, ok := v.(map[string]any)
			if !ok {
				dropped = append(dropped, k)
				continue
			}
			filtered := make(map[string]any)
			for _, kk := range transcriptionOptionKeys {
				if vv, ok := sub[kk]; ok {
					filtered[kk] = vv
				}
			}
			if len(filtered) == 0 {
				dropped = append(dropped, k)
				continue
			}
			out[k] = filtered
		case v == nil:
			dropped = append(dropped, k)
		default:
			out[k] = v
		}
	}

	sort.Strings(dropped)
	return out, dropped
}

// parseSessionResponse normalizes the provider response. The credential and
// transport URL have each appeared under several field names across API
// versions; all are probed. A non-JSON body is retained as {body: text}.
func parseSessionResponse(text string) *SessionDescriptor {
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil || raw == nil {
		raw = map[string]any{"body": text}
	}

	key := ""
	if secret, ok := raw["client_secret"].(map[string]any); ok {
		key = firstString(secret, "value", "secret")
	}
	if key == "" {
		key = firstString(raw, "client_secret_value")
	}
	if key == "" {
		if s, ok := raw["client_secret"].(string); ok {
			key = s
		}
	}

	return &SessionDescriptor{
		EphemeralKey: key,
		RealtimeURL:  firstString(raw, "sessionUrl", "joinUrl", "realtimeUrl"),
		Raw:          raw,
	}
}
