package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	ollamaDefaultURL   = "http://localhost:11434"
	ollamaDefaultModel = "llama3.2"
)

// OllamaRequest represents the request body for the Ollama chat API
type OllamaRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

// OllamaResponse represents the response from the Ollama chat API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	PromptEvalCount int64 `json:"prompt_eval_count"`
	EvalCount       int64 `json:"eval_count"`
}

// OllamaTagsResponse represents the response from the Ollama /api/tags endpoint
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

type Ollama struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewOllama(model, baseURL string, httpClient *http.Client) *Ollama {
	if model == "" {
		model = ollamaDefaultModel
	}
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	return &Ollama{
		model:      model,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (o *Ollama) Name() string  { return "ollama" }
func (o *Ollama) Model() string { return o.model }

func (o *Ollama) Complete(ctx context.Context, req Request) (*Completion, error) {
	messages := make([]map[string]string, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	for _, turn := range req.Turns {
		messages = append(messages, map[string]string{
			"role":    turn.Role,
			"content": turn.Content,
		})
	}

	reqBody := OllamaRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
	}
	if req.MaxTokens > 0 {
		reqBody.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var apiResp OllamaResponse
	if err := postJSON(ctx, o.httpClient, o.baseURL+"/api/chat", nil, reqBody, &apiResp); err != nil {
		return nil, err
	}

	return &Completion{
		Text: apiResp.Message.Content,
		Usage: map[string]int64{
			"input_tokens":  apiResp.PromptEvalCount,
			"output_tokens": apiResp.EvalCount,
		},
	}, nil
}

// ListModels fetches the models installed on the Ollama server
func (o *Ollama) ListModels(ctx context.Context) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var tagsResp OllamaTagsResponse
	if err := do(o.httpClient, req, &tagsResp); err != nil {
		return nil, fmt.Errorf("failed to list models (is Ollama running?): %w", err)
	}
	return tagsResp.Models, nil
}

// HasModel reports whether the configured model is installed
func (o *Ollama) HasModel(ctx context.Context) (bool, error) {
	models, err := o.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.Name == o.model || strings.TrimSuffix(m.Name, ":latest") == o.model {
			return true, nil
		}
	}
	return false, nil
}
