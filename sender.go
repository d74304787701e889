package voicebridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Channel is the outbound surface of the event channel. Implementations wrap
// a WebRTC data channel or a websocket connection.
type Channel interface {
	// Ready reports whether the channel is open for writing.
	Ready() bool
	// SendText writes one wire-text frame. Implementations may ignore ctx
	// if the underlying transport has no cancellable write.
	SendText(ctx context.Context, text string) error
}

const (
	// channelOpenTimeout bounds the total wait for a channel to open.
	channelOpenTimeout = 1 * time.Second
	// channelPollInterval is how often readiness is re-checked while waiting.
	channelPollInterval = 100 * time.Millisecond
)

// SendJSON serializes payload and writes it to the event channel, waiting a
// bounded time for the channel to become open first. Every failure is
// surfaced to the caller so retry and logging decisions stay at the dispatch
// layer: a nil channel yields ErrChannelMissing, a channel that never opens
// yields ErrChannelTimeout, and a payload that cannot be serialized yields a
// marshal error, all wrapped in a SendError.
func SendJSON(ctx context.Context, ch Channel, payload any) error {
	msgType := payloadType(payload)

	if ch == nil {
		return NewSendError(msgType, ErrChannelMissing)
	}

	deadline := time.Now().Add(channelOpenTimeout)
	for !ch.Ready() {
		if time.Now().After(deadline) {
			return NewSendError(msgType, ErrChannelTimeout)
		}
		select {
		case <-ctx.Done():
			return NewSendError(msgType, ctx.Err())
		case <-time.After(channelPollInterval):
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return NewSendError(msgType, fmt.Errorf("marshal payload: %w", err))
	}

	if err := ch.SendText(ctx, string(b)); err != nil {
		return NewSendError(msgType, err)
	}
	return nil
}

// payloadType pulls the outbound message's type token for error context.
func payloadType(payload any) string {
	if m, ok := payload.(map[string]any); ok {
		if t, ok := m["type"].(string); ok {
			return t
		}
	}
	return ""
}
