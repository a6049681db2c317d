// Package genai wraps the OpenAI API for the conversational fallback path.
//
// The deterministic state machine handles well-formed replies on its own; this
// client is consulted for free-form messages, with the booking operations
// exposed to the model as function tools.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

// ToolCallResponse carries one completion round: assistant text plus any
// requested tool invocations.
type ToolCallResponse struct {
	Content   string
	ToolCalls []models.ToolCall
}

// Client is the completion interface consumed by the conversation flow.
type Client interface {
	// GenerateWithTools runs one chat completion with the given tool schemas.
	GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
}

// Opts holds configuration options for the OpenAI client.
type Opts struct {
	APIKey string
	Model  openai.ChatModel
}

// Option defines a configuration option for the OpenAI client.
type Option func(*Opts)

// WithAPIKey overrides the OPENAI_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// OpenAIClient implements Client over the OpenAI chat completions API.
type OpenAIClient struct {
	client openai.Client
	model  openai.ChatModel
}

// NewClient initializes an OpenAI client. The API key comes from options or
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*OpenAIClient, error) {
	cfg := Opts{
		APIKey: os.Getenv("OPENAI_API_KEY"),
		Model:  openai.ChatModelGPT4oMini,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}, nil
}

// GenerateWithTools implements Client.
func (c *OpenAIClient) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		slog.Error("GenAI completion failed", "error", err)
		return nil, fmt.Errorf("failed to generate completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from completion")
	}

	msg := resp.Choices[0].Message
	out := &ToolCallResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	slog.Debug("GenAI completion succeeded",
		"model", c.model, "contentLength", len(out.Content), "toolCalls", len(out.ToolCalls))
	return out, nil
}
