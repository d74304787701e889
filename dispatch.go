package voicebridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Function is one tool operation the model may invoke mid-conversation.
// Execute receives the parsed call arguments and returns a JSON-encodable
// result; only transport-level failures should be returned as errors, so
// that validation problems are still delivered to the model as output.
type Function interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Registry maps function names to their implementations. It is populated
// once at startup; the dispatcher depends only on this mapping, not on how
// a function is carried out.
type Registry struct {
	order  []string
	byName map[string]Function
}

// NewRegistry creates an empty function registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Function)}
}

// Register adds a function, replacing any previous registration of the name.
func (r *Registry) Register(f Function) {
	if _, exists := r.byName[f.Name()]; !exists {
		r.order = append(r.order, f.Name())
	}
	r.byName[f.Name()] = f
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Function, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// Declarations returns the tool declarations to register with the session,
// in registration order.
func (r *Registry) Declarations() []map[string]any {
	var out []map[string]any
	for _, name := range r.order {
		f := r.byName[name]
		decl := map[string]any{
			"type":        "function",
			"name":        f.Name(),
			"description": f.Description(),
		}
		if p := f.Parameters(); p != nil {
			decl["parameters"] = p
		}
		out = append(out, decl)
	}
	return out
}

// FunctionCall is one model-issued request to run a named operation.
type FunctionCall struct {
	CallID    string         // correlation token the model expects echoed back
	Name      string         // target function identifier
	Arguments map[string]any // parsed arguments; malformed strings degrade to {raw: ...}
}

// FunctionCalls locates the function-call items embedded in a turn-completed
// event. The provider has nested them at least four ways across versions:
// directly in the content array, in an output array, under a singular item
// field, and inside another item's own output array. All are checked.
func FunctionCalls(e Event) []FunctionCall {
	if e.Payload == nil {
		return nil
	}

	var items []any
	if arr, ok := e.Payload["content"].([]any); ok {
		items = arr
	} else if arr, ok := e.Payload["output"].([]any); ok {
		items = arr
	} else if it, ok := e.Payload["item"]; ok {
		items = []any{it}
	}

	var calls []FunctionCall
	for _, raw := range items {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item := functionCallItem(m)
		if item == nil {
			continue
		}
		calls = append(calls, FunctionCall{
			CallID:    firstString(item, "call_id", "callId", "id"),
			Name:      functionCallName(item),
			Arguments: parseArguments(item["arguments"]),
		})
	}
	return calls
}

// functionCallItem normalizes one candidate into the function_call item it
// carries, or nil if it carries none.
func functionCallItem(m map[string]any) map[string]any {
	if t, _ := m["type"].(string); t == "function_call" {
		return m
	}
	if inner, ok := m["item"].(map[string]any); ok {
		if t, _ := inner["type"].(string); t == "function_call" {
			return inner
		}
	}
	if out, ok := m["output"].([]any); ok {
		for _, el := range out {
			if om, ok := el.(map[string]any); ok {
				if t, _ := om["type"].(string); t == "function_call" {
					return om
				}
			}
		}
	}
	return nil
}

func functionCallName(item map[string]any) string {
	if name, ok := item["name"].(string); ok && name != "" {
		return name
	}
	if fn, ok := item["function"].(map[string]any); ok {
		if name, ok := fn["name"].(string); ok {
			return name
		}
	}
	return ""
}

// parseArguments parses the call arguments from whichever shape they arrived
// in. A string that is not valid JSON degrades to {raw: original} rather
// than failing the call; any other shape resolves to empty arguments.
func parseArguments(v any) map[string]any {
	switch args := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return args
	case string:
		if strings.TrimSpace(args) == "" {
			return map[string]any{}
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(args), &parsed); err != nil || parsed == nil {
			return map[string]any{"raw": args}
		}
		return parsed
	default:
		return map[string]any{}
	}
}

// Dispatcher detects model-issued function calls in turn-completed events,
// executes them, and feeds results back into the session so the model can
// resume speaking.
type Dispatcher struct {
	cfg         Config
	registry    *Registry
	resumeDelay time.Duration
}

// NewDispatcher creates a dispatcher over the given function registry.
func NewDispatcher(cfg Config, registry *Registry) *Dispatcher {
	return &Dispatcher{cfg: cfg, registry: registry, resumeDelay: cfg.resumeDelay()}
}

// HandleTurnCompleted runs every function call embedded in a turn-completed
// event. Each item is isolated: a failed execution or send is logged and the
// remaining items still run. For each successful call the dispatcher sends a
// conversation.item.create carrying the function output, pauses, then sends
// response.create. Follow-ups sent with no pause are dropped by the
// transport. The output is also appended to the visible transcript so the
// operator can see what happened.
func (d *Dispatcher) HandleTurnCompleted(ctx context.Context, e Event, ch Channel, transcript *Transcript) {
	for _, call := range FunctionCalls(e) {
		if call.Name == "" {
			d.cfg.logWarn("function_call_unnamed", map[string]any{"call_id": call.CallID})
			continue
		}
		if ch == nil || !ch.Ready() {
			d.cfg.logWarn("function_call_skipped", map[string]any{
				"name":   call.Name,
				"reason": "event channel not open",
			})
			continue
		}
		d.runCall(ctx, call, ch, transcript)
	}
}

func (d *Dispatcher) runCall(ctx context.Context, call FunctionCall, ch Channel, transcript *Transcript) {
	fn, ok := d.registry.Lookup(call.Name)
	if !ok {
		d.cfg.logError("function_unknown", map[string]any{"name": call.Name, "call_id": call.CallID})
		return
	}

	d.cfg.log("function_call", map[string]any{"name": call.Name, "call_id": call.CallID})
	result, err := fn.Execute(ctx, call.Arguments)
	if err != nil {
		d.cfg.logError("function_execution_failed", map[string]any{"name": call.Name, "err": err})
		return
	}

	// The channel only transports single string payloads.
	output := stringifyResult(result)
	convMsg := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": call.CallID,
			"output":  output,
		},
	}
	if err := SendJSON(ctx, ch, convMsg); err != nil {
		d.cfg.logWarn("function_output_send_failed", map[string]any{"name": call.Name, "err": err})
	}

	time.Sleep(d.resumeDelay)

	if err := SendJSON(ctx, ch, map[string]any{"type": "response.create"}); err != nil {
		d.cfg.logWarn("response_create_send_failed", map[string]any{"name": call.Name, "err": err})
	}

	if transcript != nil {
		transcript.Append(SpeakerAssistant, "assistant-fn-"+uuid.NewString(), prettyResult(result))
	}
}

// stringifyResult flattens a function result into the single string payload
// the channel transports.
func stringifyResult(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}

// prettyResult renders a function result for the visible transcript.
func prettyResult(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}
