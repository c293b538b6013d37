package drafts

import (
	"sync"
	"testing"
	"time"
)

type memKV struct {
	mu   sync.Mutex
	data map[string]string
	sets int
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func (m *memKV) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

func (m *memKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) snapshot() (map[string]string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, m.sets
}

func TestTouchDebounces(t *testing.T) {
	kv := newMemKV()
	saved := make(chan string, 4)
	a := New(kv, 30*time.Millisecond)
	a.OnSaved = func(key string, _ int) { saved <- key }
	defer a.Close()

	a.Touch("draft_new", "h")
	a.Touch("draft_new", "he")
	a.Touch("draft_new", "hello")

	select {
	case key := <-saved:
		if key != "draft_new" {
			t.Fatalf("saved key = %q", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("draft was never saved")
	}

	data, sets := kv.snapshot()
	if data["draft_new"] != "hello" {
		t.Errorf("stored = %q, want %q", data["draft_new"], "hello")
	}
	if sets != 1 {
		t.Errorf("sets = %d, want 1", sets)
	}
}

func TestLoadSeesPendingText(t *testing.T) {
	kv := newMemKV()
	a := New(kv, time.Hour)
	defer a.Close()

	a.Touch("draft_x", "typing")
	got, ok, err := a.Load("draft_x")
	if err != nil || !ok || got != "typing" {
		t.Fatalf("Load = %q, %v, %v", got, ok, err)
	}
}

func TestDiscardCancelsPending(t *testing.T) {
	kv := newMemKV()
	_ = kv.Set("draft_x", "old")
	a := New(kv, 20*time.Millisecond)
	defer a.Close()

	a.Touch("draft_x", "new text")
	if err := a.Discard("draft_x"); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	if _, ok, _ := a.Load("draft_x"); ok {
		t.Error("draft should be gone after Discard")
	}
}

func TestFlushWritesImmediately(t *testing.T) {
	kv := newMemKV()
	a := New(kv, time.Hour)

	a.Touch("draft_a", "a")
	a.Touch("draft_b", "b")
	a.Close()

	data, _ := kv.snapshot()
	if data["draft_a"] != "a" || data["draft_b"] != "b" {
		t.Errorf("data after Close = %v", data)
	}

	a.Touch("draft_c", "ignored")
	if _, ok, _ := kv.Get("draft_c"); ok {
		t.Error("touch after Close should be ignored")
	}
}

// slowKV blocks every Set until release is closed.
type slowKV struct {
	*memKV
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowKV) Set(key, value string) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.memKV.Set(key, value)
}

func TestDiscardWinsOverInFlightWrite(t *testing.T) {
	kv := &slowKV{memKV: newMemKV(), started: make(chan struct{}), release: make(chan struct{})}
	a := New(kv, 5*time.Millisecond)
	defer a.Close()

	a.Touch("draft_new", "hello")
	select {
	case <-kv.started:
	case <-time.After(time.Second):
		t.Fatal("write never started")
	}

	discarded := make(chan error, 1)
	go func() { discarded <- a.Discard("draft_new") }()

	time.Sleep(20 * time.Millisecond)
	close(kv.release)
	select {
	case err := <-discarded:
		if err != nil {
			t.Fatalf("discard: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("discard did not return")
	}

	if _, ok, _ := a.Load("draft_new"); ok {
		t.Error("draft resurrected after discard")
	}
	if data, _ := kv.snapshot(); len(data) != 0 {
		t.Errorf("store = %v, want empty", data)
	}
}

func TestDiscardDropsQueuedFlush(t *testing.T) {
	kv := newMemKV()
	a := New(kv, time.Hour)

	a.Touch("draft_new", "hello")
	if err := a.Discard("draft_new"); err != nil {
		t.Fatal(err)
	}
	a.Touch("draft_new", "again")
	a.Close()

	data, _ := kv.snapshot()
	if data["draft_new"] != "again" {
		t.Errorf("store = %v, want the post-discard text", data)
	}
}
