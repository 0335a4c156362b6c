package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-2.5-flash"

type Gemini struct {
	model  string
	client *genai.Client
}

// NewGemini reads GEMINI_API_KEY
func NewGemini(ctx context.Context, model, baseURL string, httpClient *http.Client) (*Gemini, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable is not set")
	}
	if model == "" {
		model = geminiDefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{model: model, client: client}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Complete(ctx context.Context, req Request) (*Completion, error) {
	contents := make([]*genai.Content, 0, len(req.Turns))
	for _, turn := range req.Turns {
		role := genai.Role(genai.RoleUser)
		if turn.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}

	gc := &genai.GenerateContentConfig{}
	if req.System != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, gc)
	if err != nil {
		return nil, fmt.Errorf("gemini completion failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return nil, errors.New("empty response from Gemini")
	}

	out := &Completion{Text: text}
	if result.UsageMetadata != nil {
		out.Usage = map[string]int64{
			"input_tokens":  int64(result.UsageMetadata.PromptTokenCount),
			"output_tokens": int64(result.UsageMetadata.CandidatesTokenCount),
			"total_tokens":  int64(result.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}
