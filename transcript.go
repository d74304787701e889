package voicebridge

import "sync"

// Speaker identifies who an utterance is attributed to.
type Speaker string

const (
	// SpeakerUser marks caller-originated speech. User entries are tracked
	// but intentionally never surfaced in the visible log.
	SpeakerUser Speaker = "user"
	// SpeakerAssistant marks model-originated speech.
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one utterance in the conversation log.
type Entry struct {
	ID      string  // correlation key, server-supplied or synthesized
	Speaker Speaker // who said it
	Text    string  // current text, replaced in full while partial
	Partial bool    // true while the utterance is still being streamed
}

// Transcript maintains the ordered, de-duplicated conversation log.
// Streaming deltas sharing a (speaker, id) pair merge into one live entry;
// a finalized entry is immutable and any later text for the same key is
// appended as a new logical turn instead of overwriting history.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewTranscript creates an empty conversation log.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Upsert records text for (speaker, id). The most recent entry with the same
// key is updated in place while it is still partial; once final, a fresh
// entry is appended for that key. Entries otherwise preserve arrival order.
func (t *Transcript) Upsert(speaker Speaker, id, text string, isFinal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Speaker != speaker || t.entries[i].ID != id {
			continue
		}
		if t.entries[i].Partial {
			t.entries[i].Text = text
			t.entries[i].Partial = !isFinal
			return
		}
		// Existing entry already finalized: never mutate it, append instead.
		break
	}

	t.entries = append(t.entries, Entry{
		ID:      id,
		Speaker: speaker,
		Text:    text,
		Partial: !isFinal,
	})
}

// Append records a complete (non-partial) entry.
func (t *Transcript) Append(speaker Speaker, id, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{ID: id, Speaker: speaker, Text: text})
}

// Entries returns a snapshot of the log in arrival order.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Visible returns the snapshot filtered to assistant speech, which is the
// only speech the product displays.
func (t *Transcript) Visible() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	for _, e := range t.entries {
		if e.Speaker == SpeakerAssistant {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries in the log.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
