package voicebridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Status is the observable lifecycle state of a conversation.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusAcquiringMedia  Status = "acquiring-media"
	StatusEstablishing    Status = "establishing"
	StatusAwaitingSession Status = "awaiting-session"
	StatusNegotiating     Status = "negotiating"
	StatusConnected       Status = "connected"
	StatusStopped         Status = "stopped"
	StatusFailed          Status = "failed"
)

// Transport is an established audio peer connection plus event channel.
// Negotiate completes the offer/answer exchange using the session
// descriptor's credential; Close tears down the connection and releases
// local media resources.
type Transport interface {
	Negotiate(ctx context.Context, desc *SessionDescriptor) error
	Channel() Channel
	Close() error
}

// Establisher acquires local media and creates a transport, delivering raw
// inbound event channel messages to onMessage and progress to onStatus.
type Establisher func(ctx context.Context, onMessage func(raw string), onStatus func(Status)) (Transport, error)

// Conversation mediates one realtime voice conversation: it owns the
// transport, the transcript, and the tool dispatcher, and processes every
// event channel message on a single dispatch path.
type Conversation struct {
	cfg        Config
	registry   *Registry
	dispatcher *Dispatcher
	transcript *Transcript
	establish  Establisher

	mu        sync.Mutex
	status    Status
	statusErr error
	transport Transport
}

// NewConversation creates a conversation with the given function registry
// and transport establisher.
func NewConversation(cfg Config, registry *Registry, establish Establisher) *Conversation {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Conversation{
		cfg:        cfg,
		registry:   registry,
		dispatcher: NewDispatcher(cfg, registry),
		transcript: NewTranscript(),
		establish:  establish,
	}
}

// Start runs the connection sequence: acquire media and build the peer
// connection, negotiate a session descriptor with the provider, then
// complete the offer/answer exchange. Any failure leaves the conversation
// in a terminal failed state until Start is invoked again.
func (c *Conversation) Start(ctx context.Context) error {
	if err := ValidateConfig(c.cfg); err != nil {
		return c.fail(err)
	}
	if c.establish == nil {
		return c.fail(NewConfigError("Establisher", "", "cannot be nil"))
	}

	transport, err := c.establish(ctx, c.HandleRaw, c.setStatus)
	if err != nil {
		return c.fail(err)
	}
	c.mu.Lock()
	c.transport = transport
	c.mu.Unlock()

	c.setStatus(StatusAwaitingSession)
	desc, err := NegotiateSession(ctx, c.cfg, c.registry.Declarations())
	if err != nil {
		return c.fail(err)
	}

	c.setStatus(StatusNegotiating)
	if err := transport.Negotiate(ctx, desc); err != nil {
		return c.fail(err)
	}

	c.setStatus(StatusConnected)
	c.cfg.log("conversation_connected", map[string]any{"tools": len(c.registry.Declarations())})
	return nil
}

// Stop tears down the peer connection and releases local media immediately.
// In-flight function calls are not forcibly cancelled; their sends fail
// naturally once the channel is gone.
func (c *Conversation) Stop() {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.status = StatusStopped
	c.statusErr = nil
	c.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
}

// Status returns the current lifecycle state and, for a failed state, the
// error that caused it.
func (c *Conversation) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == "" {
		return StatusIdle, nil
	}
	return c.status, c.statusErr
}

// Transcript returns the conversation log.
func (c *Conversation) Transcript() *Transcript {
	return c.transcript
}

// HandleRaw processes one raw inbound event channel message. Messages are
// handled in arrival order on the caller's goroutine; a slow tool call
// delays later messages causally rather than reordering them. Per-event
// failures never halt the dispatch loop.
func (c *Conversation) HandleRaw(raw string) {
	e := DecodeEvent(raw)
	c.cfg.log("channel_event", map[string]any{"kind": e.Kind, "bytes": len(raw)})

	if e.IsTranscriptionFailure() {
		c.cfg.logWarn("input_transcription_failed", map[string]any{"payload": e.Payload["error"]})
	}

	if e.IsTurnCompleted() {
		c.dispatcher.HandleTurnCompleted(context.Background(), e, c.channel(), c.transcript)
		if joined, ok := extractContentTranscripts(e); ok {
			c.transcript.Append(SpeakerAssistant, "assistant-done-"+uuid.NewString(), joined)
		}
		return
	}

	// User-side transcription is intentionally suppressed from the log;
	// the product displays assistant speech only.
	if e.IsUserTranscription() {
		return
	}

	text := e.TranscriptText()
	if text == "" {
		return
	}

	c.transcript.Upsert(SpeakerAssistant, correlationID(e, SpeakerAssistant), text, e.IsFinal)
}

// correlationID picks the transcript correlation key for an event,
// synthesizing one when the server supplied none.
func correlationID(e Event, speaker Speaker) string {
	if e.ID != "" {
		return e.ID
	}
	if e.Sequence != "" {
		return fmt.Sprintf("%s-%s", speaker, e.Sequence)
	}
	return fmt.Sprintf("%s-%s", speaker, uuid.NewString())
}

func (c *Conversation) channel() Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	return c.transport.Channel()
}

func (c *Conversation) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.statusErr = nil
	c.mu.Unlock()
	c.cfg.log("status", map[string]any{"status": string(s)})
}

func (c *Conversation) fail(err error) error {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.status = StatusFailed
	c.statusErr = err
	c.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	c.cfg.logError("conversation_failed", map[string]any{"err": err})
	return err
}
