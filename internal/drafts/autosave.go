// Package drafts is a timer-driven write-behind cache for unsaved post
// text. Each key is written once its text has been quiet for the delay.
package drafts

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is the quiescence delay before a draft is persisted.
const DefaultDelay = time.Second

// KV is the persistent storage drafts are written to.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Autosaver debounces draft writes per key.
type Autosaver struct {
	kv    KV
	delay time.Duration

	// OnSaved is called after a draft has been persisted.
	OnSaved func(key string, size int)

	// io orders writes against discards: a discard waits for an in-flight
	// write and a write whose generation was discarded is dropped.
	io sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingDraft
	gen     map[string]uint64
	closed  bool
}

type pendingDraft struct {
	text  string
	gen   uint64
	timer *time.Timer
}

// New creates an Autosaver. A zero delay means DefaultDelay.
func New(kv KV, delay time.Duration) *Autosaver {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Autosaver{
		kv:      kv,
		delay:   delay,
		pending: make(map[string]*pendingDraft),
		gen:     make(map[string]uint64),
	}
}

// Touch records new text for key and restarts its timer.
func (a *Autosaver) Touch(key, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if p, ok := a.pending[key]; ok {
		p.text = text
		p.timer.Reset(a.delay)
		return
	}
	p := &pendingDraft{text: text, gen: a.gen[key]}
	p.timer = time.AfterFunc(a.delay, func() { a.fire(key, p) })
	a.pending[key] = p
}

func (a *Autosaver) fire(key string, p *pendingDraft) {
	a.mu.Lock()
	if a.pending[key] != p {
		a.mu.Unlock()
		return
	}
	delete(a.pending, key)
	text, gen := p.text, p.gen
	a.mu.Unlock()

	a.write(key, text, gen)
}

func (a *Autosaver) write(key, text string, gen uint64) {
	a.io.Lock()
	defer a.io.Unlock()

	a.mu.Lock()
	stale := a.gen[key] != gen
	a.mu.Unlock()
	if stale {
		return
	}
	if err := a.kv.Set(key, text); err != nil {
		slog.Error("draft save failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if a.OnSaved != nil {
		a.OnSaved(key, len(text))
	}
}

// Load returns the latest text for key, pending or persisted.
func (a *Autosaver) Load(key string) (string, bool, error) {
	a.mu.Lock()
	if p, ok := a.pending[key]; ok {
		text := p.text
		a.mu.Unlock()
		return text, true, nil
	}
	a.mu.Unlock()
	return a.kv.Get(key)
}

// Discard cancels any pending write for key and deletes the stored draft.
// A write already in flight completes first and is then deleted; one that
// has not reached the store yet is dropped.
func (a *Autosaver) Discard(key string) error {
	a.mu.Lock()
	a.gen[key]++
	a.mu.Unlock()

	a.io.Lock()
	defer a.io.Unlock()

	a.mu.Lock()
	if p, ok := a.pending[key]; ok {
		p.timer.Stop()
		delete(a.pending, key)
	}
	a.mu.Unlock()
	return a.kv.Delete(key)
}

// Flush writes every pending draft now.
func (a *Autosaver) Flush() {
	a.mu.Lock()
	due := make(map[string]*pendingDraft, len(a.pending))
	for key, p := range a.pending {
		p.timer.Stop()
		due[key] = p
	}
	a.pending = make(map[string]*pendingDraft)
	a.mu.Unlock()

	for key, p := range due {
		a.write(key, p.text, p.gen)
	}
}

// Close flushes pending drafts and ignores later touches.
func (a *Autosaver) Close() {
	a.Flush()
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}
