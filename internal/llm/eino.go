package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoGenerator adapts an eino chat model to Generator.
type EinoGenerator struct {
	chatModel model.BaseChatModel
}

// NewEinoGenerator wraps chatModel.
func NewEinoGenerator(chatModel model.BaseChatModel) *EinoGenerator {
	return &EinoGenerator{chatModel: chatModel}
}

// Generate opens a streamed completion on the wrapped model.
func (g *EinoGenerator) Generate(ctx context.Context, messages []Message, opts Options) (Stream, error) {
	var modelOpts []model.Option
	if opts.Temperature > 0 {
		modelOpts = append(modelOpts, model.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		modelOpts = append(modelOpts, model.WithMaxTokens(opts.MaxTokens))
	}

	reader, err := g.chatModel.Stream(ctx, toSchemaMessages(messages), modelOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	return &einoStream{reader: reader}, nil
}

func toSchemaMessages(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		role := schema.User
		switch m.Role {
		case RoleSystem:
			role = schema.System
		case RoleAssistant:
			role = schema.Assistant
		}
		out = append(out, &schema.Message{Role: role, Content: m.Content})
	}
	return out
}

type einoStream struct {
	reader *schema.StreamReader[*schema.Message]
}

// Recv skips chunks that carry no text (role headers, usage trailers).
// io.EOF from the reader is passed through unchanged.
func (s *einoStream) Recv() (string, error) {
	for {
		msg, err := s.reader.Recv()
		if err != nil {
			return "", err
		}
		if msg != nil && msg.Content != "" {
			return msg.Content, nil
		}
	}
}

func (s *einoStream) Close() {
	s.reader.Close()
}
