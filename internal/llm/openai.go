package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const (
	openAIDefaultModel = "gpt-4o-mini"
	grokDefaultURL     = "https://api.x.ai/v1"
	grokDefaultModel   = "grok-3-mini"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint
type OpenAI struct {
	name   string
	model  string
	client openai.Client
}

// NewOpenAI reads OPENAI_API_KEY; an empty baseURL targets api.openai.com
func NewOpenAI(model, baseURL string, httpClient *http.Client) (*OpenAI, error) {
	if model == "" {
		model = openAIDefaultModel
	}
	return newOpenAICompatible("openai", "OPENAI_API_KEY", model, baseURL, httpClient)
}

// NewGrok reads GROK_API_KEY and targets the xAI endpoint unless baseURL overrides it
func NewGrok(model, baseURL string, httpClient *http.Client) (*OpenAI, error) {
	if model == "" {
		model = grokDefaultModel
	}
	if baseURL == "" {
		baseURL = grokDefaultURL
	}
	return newOpenAICompatible("grok", "GROK_API_KEY", model, baseURL, httpClient)
}

func newOpenAICompatible(name, keyEnv, model, baseURL string, httpClient *http.Client) (*OpenAI, error) {
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%s not set", keyEnv)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAI{
		name:   name,
		model:  model,
		client: openai.NewClient(opts...),
	}, nil
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Complete(ctx context.Context, req Request) (*Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, turn := range req.Turns {
		if turn.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s completion failed: %w", o.name, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, errors.New("empty response from " + o.name)
	}

	return &Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: map[string]int64{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}, nil
}
