package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	payload string
}

type fakeRedis struct {
	mu      sync.Mutex
	got     []published
	failing bool
	closed  bool
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	f.got = append(f.got, published{channel, string(message.([]byte))})
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRedis) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.got...)
}

func TestMirror_PublishesInOrder(t *testing.T) {
	fake := &fakeRedis{}
	m := New(fake, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	m.Observe([]byte(`{"type":"document-update"}`))
	m.Observe([]byte(`{"type":"ai-commentary"}`))

	require.Eventually(t, func() bool { return len(fake.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	got := fake.snapshot()
	assert.Equal(t, published{DefaultChannel, `{"type":"document-update"}`}, got[0])
	assert.Equal(t, published{DefaultChannel, `{"type":"ai-commentary"}`}, got[1])

	cancel()
	<-m.Done()
	assert.True(t, fake.closed)
}

func TestMirror_PublishErrorKeepsRunning(t *testing.T) {
	fake := &fakeRedis{failing: true}
	m := New(fake, "room", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Observe([]byte("lost"))
	time.Sleep(20 * time.Millisecond)

	fake.mu.Lock()
	fake.failing = false
	fake.mu.Unlock()
	m.Observe([]byte("kept"))

	require.Eventually(t, func() bool { return len(fake.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, published{"room", "kept"}, fake.snapshot()[0])
}

func TestMirror_ObserveNeverBlocks(t *testing.T) {
	m := New(&fakeRedis{}, "room", nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize*2; i++ {
			m.Observe([]byte("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked without a running publisher")
	}
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Dial(ctx, "127.0.0.1:1", "", 200*time.Millisecond, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}
