// Package dispatch routes decoded inbound envelopes to their handlers.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/document"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/logging"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/metrics"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/protocol"
)

// Peers is the part of the connection registry the dispatcher writes to.
type Peers interface {
	SendTo(id string, frame []byte)
	BroadcastExcept(senderID string, frame []byte)
}

// ChatHandler answers a chat message.
type ChatHandler interface {
	Handle(ctx context.Context, connID string, msg protocol.ChatMessage)
}

// EditHandler runs an edit request.
type EditHandler interface {
	Handle(ctx context.Context, connID string, req protocol.EditRequest)
}

// ChangeListener is told about every accepted document write.
type ChangeListener interface {
	OnDocumentChanged(content string)
}

// Dispatcher fans inbound frames out to the store and the relays.
type Dispatcher struct {
	docs     *document.Store
	peers    Peers
	chat     ChatHandler
	edit     EditHandler
	changes  ChangeListener
	metrics  *metrics.Metrics
	log      zerolog.Logger
	inflight sync.WaitGroup
}

// New returns a Dispatcher. changes and m may be nil.
func New(docs *document.Store, peers Peers, chat ChatHandler, edit EditHandler, changes ChangeListener, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		docs:    docs,
		peers:   peers,
		chat:    chat,
		edit:    edit,
		changes: changes,
		metrics: m,
		log:     logging.Component("dispatch"),
	}
}

// Dispatch handles one frame from connID. Document updates are applied
// before it returns; chat and edit requests run in the background under
// ctx, which should outlive the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		d.rejected(connID, err)
		return
	}

	switch m := msg.(type) {
	case protocol.DocumentUpdate:
		d.metrics.InboundMessage(string(m.Kind()))
		d.documentUpdate(connID, m)
	case protocol.ChatMessage:
		d.metrics.InboundMessage(string(m.Kind()))
		d.background(func() { d.chat.Handle(ctx, connID, m) })
	case protocol.EditRequest:
		d.metrics.InboundMessage(string(m.Kind()))
		d.background(func() { d.edit.Handle(ctx, connID, m) })
	case protocol.Unknown:
		d.metrics.InboundMessage("unknown")
		d.log.Warn().Str("conn", connID).Str("type", m.Type).Msg("ignoring unknown message type")
	}
}

// Wait blocks until every background request has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// The relay and the commentary reschedule happen inside the commit, so
// peers and the timer always end on the stored content.
func (d *Dispatcher) documentUpdate(connID string, u protocol.DocumentUpdate) {
	version := d.docs.Commit(u.Content, connID, document.SourceUser, func(version uint64) {
		d.metrics.SetDocumentVersion(version)
		d.peers.BroadcastExcept(connID, protocol.DocumentUpdateFrom(u, connID))
		if d.changes != nil {
			d.changes.OnDocumentChanged(u.Content)
		}
	})
	d.log.Debug().Str("conn", connID).Uint64("version", version).Msg("document updated")
}

func (d *Dispatcher) background(fn func()) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		fn()
	}()
}

// Unreadable envelopes are dropped silently; a known kind with a bad
// payload gets an error frame.
func (d *Dispatcher) rejected(connID string, err error) {
	if errors.Is(err, protocol.ErrInvalidPayload) {
		d.metrics.InboundMessage("invalid")
		d.log.Warn().Err(err).Str("conn", connID).Msg("invalid payload")
		d.peers.SendTo(connID, protocol.Error("Failed to process message"))
		return
	}
	d.metrics.InboundMessage("malformed")
	d.log.Warn().Err(err).Str("conn", connID).Msg("dropping malformed message")
}
