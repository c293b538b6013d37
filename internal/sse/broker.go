// Package sse streams editor events to browsers with Server-Sent Events.
package sse

import (
	"bytes"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Event types.
const (
	PostSaved     = "post.saved"
	PostDeleted   = "post.deleted"
	IndexUpdated  = "index.updated"
	DraftSaved    = "draft.saved"
	ImageUploaded = "image.uploaded"
	ImageDeleted  = "image.deleted"
	StoreChanged  = "store.changed"
)

const (
	clientBuffer     = 64
	defaultThrottle  = 2 * time.Second
	defaultHeartbeat = 25 * time.Second
	retryMillis      = 3000
)

// Event is one message broadcast to every client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// message is a queued broadcast. touchesIndex marks post changes, which
// are followed by a throttled index.updated.
type message struct {
	event        Event
	touchesIndex bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets the interval of keep-alive comments sent to idle
// clients. Zero disables them.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// Broker fans events out to connected clients.
//
// A single loop goroutine owns the client set, the event counter and the
// index.updated throttle; public methods talk to it over channels.
type Broker struct {
	throttle  time.Duration
	heartbeat time.Duration

	join    chan chan []byte
	leave   chan chan []byte
	queue   chan message
	counter chan chan int

	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool

	dropped atomic.Int64
}

// NewBroker creates a broker that emits index.updated at most once per
// throttle interval.
func NewBroker(throttle time.Duration, opts ...Option) *Broker {
	if throttle <= 0 {
		throttle = defaultThrottle
	}
	b := &Broker{
		throttle:  throttle,
		heartbeat: defaultHeartbeat,
		join:      make(chan chan []byte),
		leave:     make(chan chan []byte),
		queue:     make(chan message, 256),
		counter:   make(chan chan int),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	go b.loop()
	return b
}

// encode renders one event frame. Events carry an increasing id so a
// reconnecting EventSource can report where it left off.
func encode(id uint64, e Event) ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(strconv.FormatUint(id, 10))
	buf.WriteString("\nevent: ")
	buf.WriteString(e.Type)
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

func (b *Broker) loop() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var seq uint64
	var lastIndex time.Time

	send := func(e Event) {
		seq++
		frame, err := encode(seq, e)
		if err != nil {
			return
		}
		for ch := range clients {
			select {
			case ch <- frame:
			default:
				b.dropped.Add(1)
			}
		}
	}

	for {
		select {
		case <-b.stop:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.join:
			clients[ch] = struct{}{}

		case ch := <-b.leave:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case m := <-b.queue:
			send(m.event)
			if m.touchesIndex {
				if now := time.Now(); now.Sub(lastIndex) >= b.throttle {
					lastIndex = now
					send(Event{Type: IndexUpdated, Data: map[string]string{}})
				}
			}

		case resp := <-b.counter:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stop)
	}
	<-b.stopped
}

// Subscribe registers a client. The channel is closed by Unsubscribe or
// Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.join <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leave <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.counter <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Dropped returns how many frames were skipped for clients whose buffer
// was full.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }

func (b *Broker) enqueue(m message) {
	if b.closed.Load() {
		return
	}
	select {
	case b.queue <- m:
	case <-b.stopped:
	}
}

// Publish broadcasts event.
func (b *Broker) Publish(event Event) {
	b.enqueue(message{event: event})
}

// PublishPost broadcasts a post.saved or post.deleted event for slug,
// followed by a throttled index.updated.
func (b *Broker) PublishPost(kind, slug string) {
	b.enqueue(message{
		event:        Event{Type: kind, Data: map[string]string{"slug": slug}},
		touchesIndex: true,
	})
}

// ServeHTTP streams events to one client (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("retry: " + strconv.Itoa(retryMillis) + "\n\n"))
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	var ping <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		ping = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
