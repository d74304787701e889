package voicebridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPFunction executes a tool operation by POSTing its arguments as JSON to
// a per-function endpoint: POST {baseURL}/functions/{name}. The response
// body is returned to the model whatever the status code; non-JSON bodies
// degrade to {raw: text} rather than failing.
type HTTPFunction struct {
	name        string
	description string
	parameters  map[string]any
	baseURL     string
	client      *http.Client
}

// NewHTTPFunction creates a Function backed by an external HTTP endpoint.
// baseURL is the prefix before "/functions/{name}" (e.g. "http://localhost:8080/api").
func NewHTTPFunction(name, description string, parameters map[string]any, baseURL string, client *http.Client) *HTTPFunction {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPFunction{
		name:        name,
		description: description,
		parameters:  parameters,
		baseURL:     baseURL,
		client:      client,
	}
}

// Name implements Function.
func (f *HTTPFunction) Name() string { return f.name }

// Description implements Function.
func (f *HTTPFunction) Description() string { return f.description }

// Parameters implements Function.
func (f *HTTPFunction) Parameters() map[string]any { return f.parameters }

// Execute POSTs the arguments and returns the parsed response body. Only
// transport-level failures are errors; the model should still hear about
// application-level failures carried in the body.
func (f *HTTPFunction) Execute(ctx context.Context, args map[string]any) (any, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	target := f.baseURL + "/functions/" + url.PathEscape(f.name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(text, &parsed); err != nil {
		return map[string]any{"raw": string(text)}, nil
	}
	return parsed, nil
}
