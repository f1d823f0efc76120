package responder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/foxseedlab/kikitori/internal/responder"
)

const (
	requestTimeout      = 60 * time.Second
	defaultSystemPrompt = "You are a Discord bot listening to a voice channel. Members speak to you through transcripts; answer helpfully and briefly."
)

var ErrEmptyReply = errors.New("responder returned no reply")

type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
}

// OpenAIResponder calls an OpenAI-compatible chat completion endpoint.
type OpenAIResponder struct {
	client       oai.Client
	model        string
	systemPrompt string
}

func NewOpenAIResponder(cfg OpenAIConfig) (*OpenAIResponder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("responder model must not be empty")
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Timeout: requestTimeout}),
		option.WithMaxRetries(1),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	return &OpenAIResponder{
		client:       oai.NewClient(opts...),
		model:        cfg.Model,
		systemPrompt: prompt,
	}, nil
}

func (r *OpenAIResponder) Respond(ctx context.Context, history []responder.Turn) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(r.model),
		Messages: buildMessages(r.systemPrompt, history),
	}
	resp, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// buildMessages renders history as chat turns. Speaker names are kept in the
// user turns so the model can tell participants apart.
func buildMessages(systemPrompt string, history []responder.Turn) []oai.ChatCompletionMessageParamUnion {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, oai.SystemMessage(systemPrompt))
	for _, turn := range history {
		if turn.FromAssistant {
			messages = append(messages, oai.AssistantMessage(turn.Content))
			continue
		}
		messages = append(messages, oai.UserMessage(turn.Author+": "+turn.Content))
	}
	return messages
}
