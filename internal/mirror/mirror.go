// Package mirror republishes broadcast frames on a Redis channel so other
// processes can follow the session without holding a websocket.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/logging"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/metrics"
)

// DefaultChannel is the Redis channel frames are published on.
const DefaultChannel = "collabtext:events"

const queueSize = 512

// Publisher is the subset of *redis.Client the mirror uses.
type Publisher interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Mirror forwards frames to Redis from a single goroutine. Observe never
// blocks; frames arriving while the queue is full are dropped.
type Mirror struct {
	client  Publisher
	channel string
	queue   chan []byte
	metrics *metrics.Metrics
	log     zerolog.Logger
	done    chan struct{}
}

// New wraps an existing client.
func New(client Publisher, channel string, m *metrics.Metrics) *Mirror {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Mirror{
		client:  client,
		channel: channel,
		queue:   make(chan []byte, queueSize),
		metrics: m,
		log:     logging.Component("mirror").With().Str("channel", channel).Logger(),
		done:    make(chan struct{}),
	}
}

// Dial connects to addr, retrying the initial ping with exponential backoff
// for up to maxWait.
func Dial(ctx context.Context, addr, channel string, maxWait time.Duration, m *metrics.Metrics) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait
	err := backoff.RetryNotify(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logging.Warn().Err(err).Str("addr", addr).Dur("retry_in", next).Msg("redis not reachable")
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	return New(client, channel, m), nil
}

// Observe queues frame for publishing.
func (m *Mirror) Observe(frame []byte) {
	select {
	case m.queue <- frame:
	default:
		m.metrics.FrameDropped("mirror_backlog")
	}
}

// Run publishes queued frames until ctx is cancelled, then closes the client.
func (m *Mirror) Run(ctx context.Context) {
	defer close(m.done)
	defer m.client.Close()

	m.log.Info().Msg("mirroring broadcasts to redis")
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-m.queue:
			if err := m.client.Publish(ctx, m.channel, frame).Err(); err != nil {
				m.metrics.FrameDropped("mirror_publish")
				m.log.Warn().Err(err).Msg("publish failed")
			}
		}
	}
}

// Done is closed once Run has returned.
func (m *Mirror) Done() <-chan struct{} {
	return m.done
}
