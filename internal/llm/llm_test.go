package llm

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChatModel streams a fixed set of chunks and records what it was asked.
type fakeChatModel struct {
	chunks    []*schema.Message
	failAfter int // fail after this many chunks when failErr is set
	failErr   error
	openErr   error

	gotInput []*schema.Message
	gotOpts  *model.Options
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not used")
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.gotInput = input
	f.gotOpts = model.GetCommonOptions(&model.Options{}, opts...)
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.failErr == nil {
		return schema.StreamReaderFromArray(f.chunks), nil
	}

	reader, writer := schema.Pipe[*schema.Message](len(f.chunks) + 1)
	for i, c := range f.chunks {
		if i == f.failAfter {
			break
		}
		writer.Send(c, nil)
	}
	writer.Send(nil, f.failErr)
	writer.Close()
	return reader, nil
}

func TestEinoGenerator_StreamsFragments(t *testing.T) {
	fake := &fakeChatModel{chunks: []*schema.Message{
		{Role: schema.Assistant, Content: ""},
		{Role: schema.Assistant, Content: "Good "},
		{Role: schema.Assistant, Content: "day"},
	}}
	gen := NewEinoGenerator(fake)

	stream, err := gen.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}, Options{Temperature: 0.3, MaxTokens: 150})
	require.NoError(t, err)

	var fragments []string
	full, err := Collect(stream, func(f string) { fragments = append(fragments, f) })
	require.NoError(t, err)

	assert.Equal(t, "Good day", full)
	assert.Equal(t, []string{"Good ", "day"}, fragments)

	require.Len(t, fake.gotInput, 3)
	assert.Equal(t, schema.System, fake.gotInput[0].Role)
	assert.Equal(t, schema.User, fake.gotInput[1].Role)
	assert.Equal(t, schema.Assistant, fake.gotInput[2].Role)
	assert.Equal(t, "hi", fake.gotInput[1].Content)

	require.NotNil(t, fake.gotOpts.Temperature)
	assert.InDelta(t, 0.3, *fake.gotOpts.Temperature, 1e-6)
	require.NotNil(t, fake.gotOpts.MaxTokens)
	assert.Equal(t, 150, *fake.gotOpts.MaxTokens)
}

func TestEinoGenerator_ZeroOptionsNotSent(t *testing.T) {
	fake := &fakeChatModel{}
	gen := NewEinoGenerator(fake)

	stream, err := gen.Generate(context.Background(), nil, Options{})
	require.NoError(t, err)
	stream.Close()

	assert.Nil(t, fake.gotOpts.Temperature)
	assert.Nil(t, fake.gotOpts.MaxTokens)
}

func TestEinoGenerator_OpenError(t *testing.T) {
	gen := NewEinoGenerator(&fakeChatModel{openErr: errors.New("quota")})

	_, err := gen.Generate(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestEinoGenerator_MidStreamError(t *testing.T) {
	backendErr := errors.New("connection reset")
	fake := &fakeChatModel{
		chunks: []*schema.Message{
			{Role: schema.Assistant, Content: "partial "},
			{Role: schema.Assistant, Content: "never"},
		},
		failAfter: 1,
		failErr:   backendErr,
	}

	stream, err := NewEinoGenerator(fake).Generate(context.Background(), nil, Options{})
	require.NoError(t, err)

	partial, err := Collect(stream, nil)
	assert.ErrorIs(t, err, backendErr)
	assert.Equal(t, "partial ", partial)
}

type sliceStream struct {
	fragments []string
	err       error
	closed    bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.fragments) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func (s *sliceStream) Close() { s.closed = true }

func TestCollect_ClosesStream(t *testing.T) {
	s := &sliceStream{fragments: []string{"a", "b"}}

	full, err := Collect(s, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", full)
	assert.True(t, s.closed)

	failing := &sliceStream{fragments: []string{"a"}, err: errors.New("boom")}
	_, err = Collect(failing, nil)
	assert.EqualError(t, err, "boom")
	assert.True(t, failing.closed)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleSystem, ParseRole("system"))
	assert.Equal(t, RoleAssistant, ParseRole(" Assistant "))
	assert.Equal(t, RoleUser, ParseRole("user"))
	assert.Equal(t, RoleUser, ParseRole("bot"))
	assert.Equal(t, RoleUser, ParseRole(""))
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Generate(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrUnavailable)

	reason := errors.New("OPENAI_API_KEY not set")
	_, err = Unavailable{Reason: reason}.Generate(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, reason)
}

func TestNewProvider_MissingCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ARK_API_KEY", "")

	for _, p := range Providers {
		t.Run(p, func(t *testing.T) {
			_, err := NewProvider(context.Background(), ProviderConfig{Provider: p})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not set")
		})
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := NewProvider(context.Background(), ProviderConfig{Provider: "gemini"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestNewProvider_OpenAI(t *testing.T) {
	gen, err := NewProvider(context.Background(), ProviderConfig{
		Provider: ProviderOpenAI,
		APIKey:   "sk-test",
		BaseURL:  "http://127.0.0.1:1/v1",
	})
	require.NoError(t, err)
	assert.IsType(t, &EinoGenerator{}, gen)
}
