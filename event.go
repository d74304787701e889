package voicebridge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Event is the canonical form every inbound event channel message is reduced
// to. Decoding is total: any frame, including invalid JSON, produces exactly
// one Event.
type Event struct {
	// Kind is the event-type token (e.g. "response.done"). Empty when the
	// message carried none of the known type fields.
	Kind string

	// ID is the correlation key for streaming updates, when present.
	ID string

	// Sequence is the provider-supplied sequence token, when present.
	Sequence string

	// IsFinal reports whether the message marks its utterance committed.
	IsFinal bool

	// Content holds the ordered content parts, when the message carried any.
	Content []ContentPart

	// Payload is the normalized message object. Nil for frames that did not
	// decode to a JSON object.
	Payload map[string]any
}

// ContentPart is one element of an event's content array.
type ContentPart struct {
	Type       string
	Transcript string
	Text       string
}

// The provider has shipped several envelope shapes; the type token has been
// observed under each of these field names.
var kindFields = []string{"type", "event", "name", "topic"}

// DecodeEvent normalizes one raw inbound message into a canonical Event.
// It never fails: unparseable payloads degrade to a single text-content
// event rather than being dropped.
func DecodeEvent(raw string) Event {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Event{
			Content: []ContentPart{{Text: raw}},
			Payload: map[string]any{"text": raw},
		}
	}

	if arr, ok := parsed.([]any); ok {
		parsed = selectFromArray(arr)
	}

	switch v := parsed.(type) {
	case map[string]any:
		return eventFromObject(v)
	case string:
		return Event{
			Content: []ContentPart{{Text: v}},
			Payload: map[string]any{"text": v},
		}
	default:
		// Valid JSON of a shape that carries nothing (number, null, bool).
		return Event{}
	}
}

// selectFromArray picks the most relevant element of a batched frame: the
// first element carrying any recognizable payload marker, else the first.
func selectFromArray(arr []any) any {
	if len(arr) == 0 {
		return nil
	}
	for _, el := range arr {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := m["content"]; ok {
			return m
		}
		if _, ok := m["transcript"]; ok {
			return m
		}
		if _, ok := m["name"]; ok {
			return m
		}
		if _, ok := m["type"]; ok {
			return m
		}
	}
	return arr[0]
}

func eventFromObject(obj map[string]any) Event {
	e := Event{Payload: obj}
	e.Kind = firstString(obj, kindFields...)
	e.ID = firstString(obj, "transcript_id", "id")
	e.Sequence = stringify(obj["sequence"])
	e.IsFinal = truthy(obj["is_final"]) || truthy(obj["final"]) || truthy(obj["committed"])
	if arr, ok := obj["content"].([]any); ok {
		for _, el := range arr {
			part := ContentPart{}
			if m, ok := el.(map[string]any); ok {
				part.Type, _ = m["type"].(string)
				part.Transcript, _ = m["transcript"].(string)
				part.Text, _ = m["text"].(string)
			} else if s, ok := el.(string); ok {
				part.Text = s
			}
			e.Content = append(e.Content, part)
		}
	}
	return e
}

var (
	userTranscriptionRe = regexp.MustCompile(`(?i)conversation\.item\.(input_)?audio_transcription\.(delta|completed)`)
	turnCompletedRe     = regexp.MustCompile(`(?i)response\.done|response\.output_item\.done|response\.content_part`)
	transcriptionFailRe = regexp.MustCompile(`(?i)conversation\.item\.input_audio_transcription\.failed`)

	// Bare event labels: letters, digits, dot, hyphen, underscore only.
	// Such values are event names leaking into text fields, not speech.
	bareIdentifierRe = regexp.MustCompile(`^[\w.-]+$`)
)

// IsUserTranscription reports whether this event carries a user-side audio
// transcription. These are intentionally excluded from the visible log.
func (e Event) IsUserTranscription() bool {
	return e.Kind != "" && userTranscriptionRe.MatchString(e.Kind)
}

// IsTurnCompleted reports whether this event belongs to the "turn completed"
// class that may carry finished transcripts and embedded function calls.
func (e Event) IsTurnCompleted() bool {
	return e.Kind != "" && turnCompletedRe.MatchString(e.Kind)
}

// IsTranscriptionFailure reports a failed user-audio transcription.
func (e Event) IsTranscriptionFailure() bool {
	return e.Kind != "" && transcriptionFailRe.MatchString(e.Kind)
}

// extractStrategy is one prioritized way of pulling spoken text out of an
// event. Strategies are tried in order; the first hit wins.
type extractStrategy func(Event) (string, bool)

var extractStrategies = []extractStrategy{
	extractContentTranscripts,
	extractTopLevelTranscript,
	extractStringContent,
	extractNestedText,
	extractDeepFirstString,
}

// TranscriptText extracts the spoken text carried by this event, if any.
// Extracted values that are just the event's own label are suppressed.
func (e Event) TranscriptText() string {
	for _, strategy := range extractStrategies {
		text, ok := strategy(e)
		if !ok {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" || e.isEventLabel(text) {
			return ""
		}
		return text
	}
	return ""
}

// isEventLabel reports whether text is the event's own type/name token or a
// bare identifier. Neither is spoken content.
func (e Event) isEventLabel(text string) bool {
	if e.Payload != nil {
		for _, f := range kindFields {
			if v, ok := e.Payload[f].(string); ok && text == strings.TrimSpace(v) {
				return true
			}
		}
	}
	return bareIdentifierRe.MatchString(text)
}

// extractContentTranscripts joins per-part transcripts from the content
// array, newline-separated.
func extractContentTranscripts(e Event) (string, bool) {
	if len(e.Content) == 0 {
		return "", false
	}
	var pieces []string
	for _, part := range e.Content {
		switch {
		case strings.TrimSpace(part.Transcript) != "":
			pieces = append(pieces, strings.TrimSpace(part.Transcript))
		case strings.TrimSpace(part.Text) != "":
			pieces = append(pieces, strings.TrimSpace(part.Text))
		}
	}
	if len(pieces) == 0 {
		return "", false
	}
	return strings.Join(pieces, "\n"), true
}

func extractTopLevelTranscript(e Event) (string, bool) {
	if e.Payload == nil {
		return "", false
	}
	if s, ok := e.Payload["transcript"].(string); ok && strings.TrimSpace(s) != "" {
		return s, true
	}
	return "", false
}

func extractStringContent(e Event) (string, bool) {
	if e.Payload == nil {
		return "", false
	}
	if s, ok := e.Payload["content"].(string); ok && strings.TrimSpace(s) != "" {
		return s, true
	}
	return "", false
}

// extractNestedText probes the text-ish fields various schema versions have
// used, recursing through payload/message wrappers.
func extractNestedText(e Event) (string, bool) {
	if e.Payload == nil {
		return "", false
	}
	if s, ok := e.Payload["text"].(string); ok && s != "" {
		return s, true
	}
	for _, wrapper := range []string{"payload", "message"} {
		if inner, ok := e.Payload[wrapper]; ok {
			if s := firstStringDeep(inner); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// extractDeepFirstString is the documented last-resort strategy: a generic
// depth-first hunt for any string value. Lossy and best-effort only.
func extractDeepFirstString(e Event) (string, bool) {
	if e.Payload == nil {
		return "", false
	}
	if s := firstStringDeep(e.Payload); s != "" {
		return s, true
	}
	return "", false
}

// firstStringDeep walks a decoded JSON value depth-first and returns the
// first string it finds. Map keys are visited in sorted order so the result
// is deterministic.
func firstStringDeep(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		for _, el := range val {
			if s := firstStringDeep(el); s != "" {
				return s
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := val[k].(string); ok && s != "" {
				return s
			}
		}
		for _, k := range keys {
			switch val[k].(type) {
			case map[string]any, []any:
				if s := firstStringDeep(val[k]); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// firstString returns the first non-empty string found among the given keys.
func firstString(m map[string]any, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return formatNumber(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", f)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case float64:
		return val != 0
	default:
		return false
	}
}
