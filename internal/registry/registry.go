// Package registry tracks live connections and fans frames out to them.
//
// All membership changes and deliveries go through a single hub loop (Run),
// so a frame is queued to every target before the next frame is looked at.
// Each connection drains its queue on its own writer goroutine, which gives
// per-connection FIFO delivery without letting one slow peer stall the rest.
package registry

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/logging"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/metrics"
)

// DefaultQueueSize is the per-connection outbound buffer.
const DefaultQueueSize = 256

// Transport is the framed message channel of one connection. Write is only
// ever called from that connection's writer goroutine.
type Transport interface {
	Write(frame []byte) error
	Close() error
}

// Client is one registered connection.
type Client struct {
	id        string
	transport Transport
	send      chan []byte
	open      bool
}

type registration struct {
	client  *Client
	welcome func() []byte
}

type deliveryMode int

const (
	toOne deliveryMode = iota
	toAllExcept
	toAll
)

type delivery struct {
	mode   deliveryMode
	target string
	frame  []byte
}

// Registry is the connection hub.
type Registry struct {
	log       zerolog.Logger
	metrics   *metrics.Metrics
	queueSize int
	observer  func(frame []byte)

	clients    map[string]*Client
	register   chan registration
	unregister chan string
	deliver    chan delivery
	done       chan struct{}

	count atomic.Int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithQueueSize sets the per-connection outbound buffer.
func WithQueueSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithObserver hands every broadcast frame to fn on the hub goroutine.
// fn must not block.
func WithObserver(fn func(frame []byte)) Option {
	return func(r *Registry) { r.observer = fn }
}

// WithMetrics records connection counts and dropped frames.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New returns a Registry. Nothing is delivered until Run is started.
func New(opts ...Option) *Registry {
	r := &Registry{
		log:        logging.Component("registry"),
		queueSize:  DefaultQueueSize,
		clients:    make(map[string]*Client),
		register:   make(chan registration),
		unregister: make(chan string),
		deliver:    make(chan delivery),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run is the hub loop. It returns when ctx is cancelled, after closing every
// connection's queue.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			for id := range r.clients {
				r.remove(id)
			}
			return
		case reg := <-r.register:
			r.add(reg)
		case id := <-r.unregister:
			r.remove(id)
		case d := <-r.deliver:
			r.route(d)
		}
	}
}

// Done is closed once Run has returned.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// Register adds a connection and returns its id. welcome, when non-nil, is
// evaluated on the hub goroutine and its frame queued ahead of anything else
// the connection receives, so a snapshot built there cannot miss a broadcast.
func (r *Registry) Register(t Transport, welcome func() []byte) string {
	c := &Client{
		id:        uuid.NewString(),
		transport: t,
		send:      make(chan []byte, r.queueSize),
		open:      true,
	}
	select {
	case r.register <- registration{client: c, welcome: welcome}:
	case <-r.done:
		t.Close()
	}
	return c.id
}

// Unregister removes a connection. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	select {
	case r.unregister <- id:
	case <-r.done:
	}
}

// SendTo queues frame for one connection. It is dropped if the id is gone.
func (r *Registry) SendTo(id string, frame []byte) {
	r.submit(delivery{mode: toOne, target: id, frame: frame})
}

// BroadcastExcept queues frame for every connection but the sender.
func (r *Registry) BroadcastExcept(senderID string, frame []byte) {
	r.submit(delivery{mode: toAllExcept, target: senderID, frame: frame})
}

// BroadcastAll queues frame for every connection.
func (r *Registry) BroadcastAll(frame []byte) {
	r.submit(delivery{mode: toAll, frame: frame})
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

func (r *Registry) submit(d delivery) {
	if d.frame == nil {
		return
	}
	select {
	case r.deliver <- d:
	case <-r.done:
	}
}

func (r *Registry) add(reg registration) {
	c := reg.client
	r.clients[c.id] = c
	r.count.Store(int64(len(r.clients)))
	r.metrics.SetConnections(len(r.clients))

	if reg.welcome != nil {
		if frame := reg.welcome(); frame != nil {
			c.send <- frame
		}
	}
	go r.writePump(c)

	r.log.Info().Str("conn", c.id).Int("connections", len(r.clients)).Msg("client registered")
}

func (r *Registry) remove(id string) {
	c, ok := r.clients[id]
	if !ok {
		return
	}
	delete(r.clients, id)
	c.open = false
	close(c.send)
	r.count.Store(int64(len(r.clients)))
	r.metrics.SetConnections(len(r.clients))

	r.log.Info().Str("conn", id).Int("connections", len(r.clients)).Msg("client unregistered")
}

func (r *Registry) route(d delivery) {
	switch d.mode {
	case toOne:
		c, ok := r.clients[d.target]
		if !ok {
			r.metrics.FrameDropped("unknown_connection")
			return
		}
		r.enqueue(c, d.frame)
	case toAllExcept, toAll:
		for id, c := range r.clients {
			if d.mode == toAllExcept && id == d.target {
				continue
			}
			r.enqueue(c, d.frame)
		}
		if r.observer != nil {
			r.observer(d.frame)
		}
	}
}

// enqueue never blocks the hub; a connection whose queue is full is dropped.
func (r *Registry) enqueue(c *Client, frame []byte) {
	if !c.open {
		return
	}
	select {
	case c.send <- frame:
	default:
		r.metrics.FrameDropped("slow_consumer")
		r.log.Warn().Str("conn", c.id).Msg("outbound queue full, dropping client")
		r.remove(c.id)
	}
}

func (r *Registry) writePump(c *Client) {
	defer c.transport.Close()

	for frame := range c.send {
		if err := c.transport.Write(frame); err != nil {
			r.log.Debug().Err(err).Str("conn", c.id).Msg("write failed")
			r.metrics.FrameDropped("transport_error")
			r.Unregister(c.id)
			return
		}
	}
}
