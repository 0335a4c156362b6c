package llm

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
)

const (
	anthropicDefaultURL   = "https://api.anthropic.com"
	anthropicDefaultModel = "claude-sonnet-4-20250514"
	anthropicVersion      = "2023-06-01"
)

// AnthropicRequest represents the request body for the Anthropic messages API
type AnthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []AnthropicMessage `json:"messages"`
}

// AnthropicMessage represents a message in the conversation
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicContent is one block of a response
type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AnthropicResponse represents the response from the Anthropic API
type AnthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []AnthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      map[string]any     `json:"usage"`
}

type Anthropic struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropic reads ANTHROPIC_API_KEY; an empty model or baseURL selects the default
func NewAnthropic(model, baseURL string, httpClient *http.Client) (*Anthropic, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not set")
	}
	if model == "" {
		model = anthropicDefaultModel
	}
	if baseURL == "" {
		baseURL = anthropicDefaultURL
	}
	return &Anthropic{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Complete(ctx context.Context, req Request) (*Completion, error) {
	messages := make([]AnthropicMessage, len(req.Turns))
	for i, turn := range req.Turns {
		messages[i] = AnthropicMessage{Role: turn.Role, Content: turn.Content}
	}

	reqBody := AnthropicRequest{
		Model:     a.model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  messages,
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var apiResp AnthropicResponse
	if err := postJSON(ctx, a.httpClient, a.baseURL+"/v1/messages", headers, reqBody, &apiResp); err != nil {
		return nil, err
	}

	for _, content := range apiResp.Content {
		if content.Type == "text" {
			return &Completion{Text: content.Text, Usage: numericUsage(apiResp.Usage)}, nil
		}
	}
	return nil, errors.New("empty response from Anthropic")
}
