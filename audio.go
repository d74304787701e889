package voicebridge

import (
	"context"
	"encoding/base64"
	"errors"
)

// maxAudioChunk bounds one input_audio_buffer.append payload.
const maxAudioChunk = 1024 * 1024

// AppendPCM16 sends PCM16 audio to the session's input buffer over the event
// channel. This is the audio path for the websocket transport, where no
// media track exists; audio is base64-encoded into channel messages. The
// data must be 16-bit little-endian PCM.
func AppendPCM16(ctx context.Context, ch Channel, pcmLE []byte) error {
	if len(pcmLE) == 0 {
		return nil
	}
	if len(pcmLE)%2 != 0 {
		return NewSendError("input_audio_buffer.append", errors.New("PCM16 data must have an even number of bytes"))
	}
	if len(pcmLE) > maxAudioChunk {
		return NewSendError("input_audio_buffer.append", errors.New("audio chunk exceeds 1MB, split into smaller appends"))
	}

	return SendJSON(ctx, ch, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcmLE),
	})
}

// CommitInput commits the pending input audio buffer, asking the provider to
// finalize the user utterance accumulated so far.
func CommitInput(ctx context.Context, ch Channel) error {
	return SendJSON(ctx, ch, map[string]any{"type": "input_audio_buffer.commit"})
}

// ClearInput drops the pending input audio buffer.
func ClearInput(ctx context.Context, ch Channel) error {
	return SendJSON(ctx, ch, map[string]any{"type": "input_audio_buffer.clear"})
}
