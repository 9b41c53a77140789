package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	ErrNotConfigured = errors.New("llm is not configured")
	ErrGeneration    = errors.New("llm generation failed")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

func (c ChatConfig) Valid() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.Model) != ""
}

// TextGenerator is the external text-generation capability. The returned
// sequence is lazy, finite and can be ranged over once; a non-nil error
// ends it.
type TextGenerator interface {
	Stream(ctx context.Context, messages []ChatMessage) iter.Seq2[string, error]
}

// OpenAICompatibleClient streams chat completions from any endpoint that
// speaks the OpenAI chat completions protocol.
type OpenAICompatibleClient struct {
	client *openai.Client
	cfg    ChatConfig
}

var _ TextGenerator = (*OpenAICompatibleClient)(nil)

func NewOpenAICompatibleClient(cfg ChatConfig, opts ...option.RequestOption) *OpenAICompatibleClient {
	c := &OpenAICompatibleClient{cfg: cfg}
	if !cfg.Valid() {
		return c
	}
	base := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + "/"),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}
	c.client = openai.NewClient(append(base, opts...)...)
	return c
}

func (c *OpenAICompatibleClient) Configured() bool {
	return c.client != nil
}

func (c *OpenAICompatibleClient) Stream(ctx context.Context, messages []ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !c.Configured() {
			yield("", ErrNotConfigured)
			return
		}

		params := openai.ChatCompletionNewParams{
			Messages: openai.F(toParams(messages)),
			Model:    openai.F(c.cfg.Model),
		}
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("%w: %w", ErrGeneration, err))
		}
	}
}

func toParams(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
