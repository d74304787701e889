package voicebridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeTransport pairs a fakeChannel with recorded negotiation state.
type fakeTransport struct {
	ch           *fakeChannel
	negotiateErr error
	negotiated   *SessionDescriptor
	closed       bool
}

func (t *fakeTransport) Negotiate(_ context.Context, desc *SessionDescriptor) error {
	t.negotiated = desc
	return t.negotiateErr
}

func (t *fakeTransport) Channel() Channel { return t.ch }

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

func fakeEstablisher(tr *fakeTransport, err error) Establisher {
	return func(_ context.Context, _ func(string), onStatus func(Status)) (Transport, error) {
		onStatus(StatusEstablishing)
		if err != nil {
			return nil, err
		}
		return tr, nil
	}
}

func sessionServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"client_secret":{"value":"eph"},"sessionUrl":"https://rt.example/v1"}`))
	}))
}

func TestConversation_StartHappyPath(t *testing.T) {
	srv := sessionServer(t)
	defer srv.Close()

	tr := &fakeTransport{ch: &fakeChannel{ready: true}}
	cfg := Config{Endpoint: srv.URL, Credential: APIKey("k")}
	conv := NewConversation(cfg, nil, fakeEstablisher(tr, nil))

	if err := conv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	status, serr := conv.Status()
	if status != StatusConnected || serr != nil {
		t.Errorf("status = %v err %v, want connected", status, serr)
	}
	if tr.negotiated == nil || tr.negotiated.EphemeralKey != "eph" {
		t.Errorf("transport got descriptor %+v", tr.negotiated)
	}
}

func TestConversation_StartFailures(t *testing.T) {
	srv := sessionServer(t)
	defer srv.Close()

	t.Run("invalid config", func(t *testing.T) {
		conv := NewConversation(Config{}, nil, fakeEstablisher(&fakeTransport{}, nil))
		if err := conv.Start(context.Background()); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
		if status, _ := conv.Status(); status != StatusFailed {
			t.Errorf("status = %v, want failed", status)
		}
	})

	t.Run("establish fails", func(t *testing.T) {
		mediaErr := NewMediaError("start", errors.New("no device"))
		cfg := Config{Endpoint: srv.URL, Credential: APIKey("k")}
		conv := NewConversation(cfg, nil, fakeEstablisher(nil, mediaErr))
		if err := conv.Start(context.Background()); !errors.Is(err, ErrMediaAccess) {
			t.Errorf("expected ErrMediaAccess, got %v", err)
		}
	})

	t.Run("negotiation fails closes transport", func(t *testing.T) {
		tr := &fakeTransport{ch: &fakeChannel{}, negotiateErr: NewNegotiationError("u", 403, "no", nil)}
		cfg := Config{Endpoint: srv.URL, Credential: APIKey("k")}
		conv := NewConversation(cfg, nil, fakeEstablisher(tr, nil))
		if err := conv.Start(context.Background()); !errors.Is(err, ErrNegotiationFailed) {
			t.Errorf("expected ErrNegotiationFailed, got %v", err)
		}
		if !tr.closed {
			t.Error("failed start must release the transport")
		}
		if _, serr := conv.Status(); serr == nil {
			t.Error("failed status should retain the error")
		}
	})
}

func TestConversation_Stop(t *testing.T) {
	srv := sessionServer(t)
	defer srv.Close()

	tr := &fakeTransport{ch: &fakeChannel{ready: true}}
	cfg := Config{Endpoint: srv.URL, Credential: APIKey("k")}
	conv := NewConversation(cfg, nil, fakeEstablisher(tr, nil))
	if err := conv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	conv.Stop()
	if !tr.closed {
		t.Error("stop must close the transport")
	}
	if status, _ := conv.Status(); status != StatusStopped {
		t.Errorf("status = %v, want stopped", status)
	}
}

func TestHandleRaw_AssistantTranscriptFlow(t *testing.T) {
	conv := NewConversation(Config{}, nil, nil)

	conv.HandleRaw(`{"type":"response.audio_transcript.delta","transcript_id":"t1","transcript":"ご予約"}`)
	conv.HandleRaw(`{"type":"response.audio_transcript.delta","transcript_id":"t1","transcript":"ご予約を承りました","is_final":true}`)

	visible := conv.Transcript().Visible()
	if len(visible) != 1 {
		t.Fatalf("visible = %d entries, want merged delta stream", len(visible))
	}
	if visible[0].Text != "ご予約を承りました" || visible[0].Partial {
		t.Errorf("entry = %+v", visible[0])
	}
}

func TestHandleRaw_UserTranscriptionSuppressed(t *testing.T) {
	conv := NewConversation(Config{}, nil, nil)

	conv.HandleRaw(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"caller words here"}`)
	conv.HandleRaw(`{"type":"conversation.item.audio_transcription.delta","transcript":"more caller words"}`)

	if n := conv.Transcript().Len(); n != 0 {
		t.Errorf("user transcription must never enter the log, got %d entries", n)
	}
}

func TestHandleRaw_TranscriptionFailureDoesNotHalt(t *testing.T) {
	conv := NewConversation(Config{}, nil, nil)

	conv.HandleRaw(`{"type":"conversation.item.input_audio_transcription.failed","error":{"message":"bad audio"}}`)
	conv.HandleRaw(`{"type":"response.audio_transcript.delta","transcript_id":"t1","transcript":"still talking here","is_final":true}`)

	if n := len(conv.Transcript().Visible()); n != 1 {
		t.Errorf("processing must continue after a transcription failure, visible = %d", n)
	}
}

func TestHandleRaw_TurnCompletedRunsFunctions(t *testing.T) {
	srv := sessionServer(t)
	defer srv.Close()

	fn := &stubFunction{name: "list_locations", result: map[string]any{"locations": []any{}}}
	reg := NewRegistry()
	reg.Register(fn)

	tr := &fakeTransport{ch: &fakeChannel{ready: true}}
	cfg := Config{Endpoint: srv.URL, Credential: APIKey("k"), ResumeDelay: time.Millisecond}
	conv := NewConversation(cfg, reg, fakeEstablisher(tr, nil))
	if err := conv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	conv.HandleRaw(`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"c1","name":"list_locations","arguments":"{}"}}`)

	if fn.calls != 1 {
		t.Fatalf("function executed %d times, want 1", fn.calls)
	}
	sent := tr.ch.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("sent = %d messages, want output and response.create", len(sent))
	}
	if !strings.Contains(sent[0], `"call_id":"c1"`) {
		t.Errorf("first send = %s", sent[0])
	}
}

func TestHandleRaw_TurnCompletedAppendsContent(t *testing.T) {
	conv := NewConversation(Config{}, nil, nil)

	conv.HandleRaw(`{"type":"response.done","content":[{"transcript":"final answer text"}]}`)

	visible := conv.Transcript().Visible()
	if len(visible) != 1 {
		t.Fatalf("visible = %d", len(visible))
	}
	if visible[0].Text != "final answer text" {
		t.Errorf("text = %q", visible[0].Text)
	}
	if !strings.HasPrefix(visible[0].ID, "assistant-done-") {
		t.Errorf("id = %q", visible[0].ID)
	}
}

func TestHandleRaw_EventLabelNoise(t *testing.T) {
	conv := NewConversation(Config{}, nil, nil)

	conv.HandleRaw(`{"type":"session.created"}`)
	conv.HandleRaw(`{"type":"session.updated","text":"session.updated"}`)
	conv.HandleRaw(`{"type":"output_audio_buffer.started"}`)

	if n := conv.Transcript().Len(); n != 0 {
		t.Errorf("event noise must not produce transcript entries, got %d", n)
	}
}

func TestCorrelationID(t *testing.T) {
	if got := correlationID(Event{ID: "srv-id"}, SpeakerAssistant); got != "srv-id" {
		t.Errorf("server id should win, got %q", got)
	}
	if got := correlationID(Event{Sequence: "42"}, SpeakerAssistant); got != "assistant-42" {
		t.Errorf("sequence fallback = %q", got)
	}
	a := correlationID(Event{}, SpeakerAssistant)
	b := correlationID(Event{}, SpeakerAssistant)
	if a == b || !strings.HasPrefix(a, "assistant-") {
		t.Errorf("synthesized ids must be unique: %q, %q", a, b)
	}
}
