// Package commentary produces short AI remarks about the document once
// editing pauses.
package commentary

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/debounce"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/llm"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/logging"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/metrics"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/protocol"
)

// DefaultDelay is the quiet period after the last change.
const DefaultDelay = 2 * time.Second

const systemPrompt = `You are an AI writing assistant. Provide brief, helpful commentary on the document being written.
Keep comments constructive and concise. Focus on content structure, clarity, or writing suggestions.`

var options = llm.Options{Temperature: 0.5, MaxTokens: 150}

// Broadcaster delivers a frame to every connection.
type Broadcaster interface {
	BroadcastAll(frame []byte)
}

// Trigger owns the one commentary timer of the process.
type Trigger struct {
	ctx       context.Context
	generator llm.Generator
	out       Broadcaster
	metrics   *metrics.Metrics
	log       zerolog.Logger

	timer *debounce.Debouncer[change]
	// seq numbers changes; a result whose change is no longer the newest
	// is discarded.
	seq atomic.Uint64
}

type change struct {
	content string
	seq     uint64
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithMetrics records commentary generations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Trigger) { t.metrics = m }
}

// New returns a Trigger firing delay after the last change. Generations run
// under ctx, so cancelling it aborts a commentary in progress.
func New(ctx context.Context, delay time.Duration, generator llm.Generator, out Broadcaster, opts ...Option) *Trigger {
	if delay <= 0 {
		delay = DefaultDelay
	}
	t := &Trigger{
		ctx:       ctx,
		generator: generator,
		out:       out,
		log:       logging.Component("commentary"),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.timer = debounce.New(delay, t.fire)
	return t
}

// OnDocumentChanged restarts the quiet period with content as the latest text.
func (t *Trigger) OnDocumentChanged(content string) {
	t.timer.Schedule(change{content: content, seq: t.seq.Add(1)})
}

// Pending reports whether a commentary is scheduled.
func (t *Trigger) Pending() bool {
	return t.timer.Pending()
}

// Stop cancels the pending commentary and ignores later changes.
func (t *Trigger) Stop() {
	t.timer.Stop()
}

func (t *Trigger) fire(c change) {
	if strings.TrimSpace(c.content) == "" {
		return
	}

	start := time.Now()
	text, err := t.generate(c.content)
	if err != nil {
		t.metrics.StreamFinished("commentary", "error", time.Since(start))
		t.log.Error().Err(err).Msg("commentary generation failed")
		return
	}
	t.metrics.StreamFinished("commentary", "ok", time.Since(start))

	if c.seq != t.seq.Load() {
		t.log.Debug().Msg("document changed during commentary, discarding")
		return
	}
	t.out.BroadcastAll(protocol.AICommentary(text))
	t.log.Debug().Int("length", len(text)).Msg("commentary broadcast")
}

func (t *Trigger) generate(content string) (string, error) {
	stream, err := t.generator.Generate(t.ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: "Please provide brief commentary on this document content: " + content},
	}, options)
	if err != nil {
		return "", err
	}
	return llm.Collect(stream, nil)
}
