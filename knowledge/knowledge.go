// Package knowledge loads read-only knowledge base text served to the
// assistant through the knowledge retrieval function.
package knowledge

import (
	"os"
	"strings"
	"sync"
)

// Base reads one knowledge text file, caching the content after the first
// successful load. A missing file is not an error; it yields empty content
// so the calling function can degrade gracefully.
type Base struct {
	path   string
	logger func(event string, fields map[string]any)

	mu     sync.Mutex
	cached string
	loaded bool
}

// New creates a knowledge base backed by the text file at path.
// logger may be nil.
func New(path string, logger func(event string, fields map[string]any)) *Base {
	if logger == nil {
		logger = func(string, map[string]any) {}
	}
	return &Base{path: path, logger: logger}
}

// Load returns the knowledge content, reading the file on first call.
func (b *Base) Load() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return b.cached, nil
	}

	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		b.logger("knowledge_missing", map[string]any{"path": b.path})
		b.cached = ""
		b.loaded = true
		return "", nil
	}
	if err != nil {
		return "", err
	}

	b.cached = strings.TrimSpace(string(data))
	b.loaded = true
	b.logger("knowledge_loaded", map[string]any{"path": b.path, "chars": len(b.cached)})
	return b.cached, nil
}

// Clear drops the cache so the next Load rereads the file.
func (b *Base) Clear() {
	b.mu.Lock()
	b.cached = ""
	b.loaded = false
	b.mu.Unlock()
}
