package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"ChatPane/internal/cache"
	"ChatPane/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRequest = Request{
	System: "be nice",
	Turns: []Turn{
		{Role: RoleUser, Content: "Hi"},
		{Role: RoleAssistant, Content: "Hello!"},
		{Role: RoleUser, Content: "How are you?"},
	},
	MaxTokens: 128,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAnthropic_Complete(t *testing.T) {
	var got AnthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]any{
			"id":      "msg_1",
			"content": []map[string]any{{"type": "text", "text": "Fine, thanks."}},
			"usage":   map[string]any{"input_tokens": 12, "output_tokens": 4},
		})
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	p, err := NewAnthropic("", srv.URL+"/", srv.Client())
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "Fine, thanks.", out.Text)
	assert.Equal(t, map[string]int64{"input_tokens": 12, "output_tokens": 4}, out.Usage)

	assert.Equal(t, anthropicDefaultModel, got.Model)
	assert.Equal(t, "be nice", got.System)
	assert.Equal(t, 128, got.MaxTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, AnthropicMessage{Role: "assistant", Content: "Hello!"}, got.Messages[1])
}

func TestAnthropic_Errors(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropic("", "", http.DefaultClient)
	assert.EqualError(t, err, "ANTHROPIC_API_KEY not set")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	p, err := NewAnthropic("", srv.URL, srv.Client())
	require.NoError(t, err)
	_, err = p.Complete(context.Background(), testRequest)
	assert.ErrorContains(t, err, "503")
}

func TestOllama_CompleteAndListModels(t *testing.T) {
	var got OllamaRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"model":             got.Model,
			"message":           map[string]string{"role": "assistant", "content": "Doing well."},
			"done":              true,
			"prompt_eval_count": 20,
			"eval_count":        3,
		})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{{"name": "llama3.2:latest"}, {"name": "mistral:7b"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOllama("", srv.URL, srv.Client())
	out, err := p.Complete(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "Doing well.", out.Text)
	assert.Equal(t, int64(20), out.Usage["input_tokens"])

	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, map[string]string{"role": "system", "content": "be nice"}, got.Messages[0])
	assert.EqualValues(t, 128, got.Options["num_predict"])

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, 2)

	ok, err := p.HasModel(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "llama3.2 matches llama3.2:latest")

	ok, err = NewOllama("phi4", srv.URL, srv.Client()).HasModel(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenAI_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Great!"}}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 2, "total_tokens": 11}
		}`)
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "test-key")
	p, err := NewOpenAI("", srv.URL, srv.Client())
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "Great!", out.Text)
	assert.Equal(t, int64(11), out.Usage["total_tokens"])

	assert.Equal(t, "gpt-4o-mini", got["model"])
	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", messages[2].(map[string]any)["role"])
}

func TestGrok_RequiresKey(t *testing.T) {
	t.Setenv("GROK_API_KEY", "")
	_, err := NewGrok("", "", http.DefaultClient)
	assert.EqualError(t, err, "GROK_API_KEY not set")

	t.Setenv("GROK_API_KEY", "k")
	p, err := NewGrok("", "", http.DefaultClient)
	require.NoError(t, err)
	assert.Equal(t, "grok", p.Name())
	assert.Equal(t, grokDefaultModel, p.model)
}

func TestEcho(t *testing.T) {
	out, err := Echo{}.Complete(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "You said: How are you?", out.Text)

	out, err = Echo{}.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "You said nothing.", out.Text)
}

type countingProvider struct {
	calls int
	err   error
}

func (c *countingProvider) Name() string { return "counting" }

func (c *countingProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &Completion{Text: "reply"}, nil
}

func TestCached(t *testing.T) {
	inner := &countingProvider{}
	p := NewCached(inner, cache.New(0, 0), discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := p.Complete(ctx, testRequest)
		require.NoError(t, err)
		assert.Equal(t, "reply", out.Text)
	}
	assert.Equal(t, 1, inner.calls)

	other := testRequest
	other.System = "be terse"
	_, err := p.Complete(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	inner := &countingProvider{err: errors.New("boom")}
	p := NewCached(inner, cache.New(0, 0), discardLogger())

	_, err := p.Complete(context.Background(), testRequest)
	assert.Error(t, err)
	_, err = p.Complete(context.Background(), testRequest)
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	p, err := New(ctx, config.LLMConfig{Provider: config.ProviderEcho}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "echo", p.Name())
	assert.IsType(t, &instrumented{}, p)

	out, err := p.Complete(ctx, testRequest)
	require.NoError(t, err)
	assert.Equal(t, "You said: How are you?", out.Text)

	p, err = New(ctx, config.LLMConfig{Provider: config.ProviderEcho, Cache: true}, Options{Logger: discardLogger()})
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, p)

	p, err = New(ctx, config.LLMConfig{Provider: config.ProviderEcho, Cache: true, CacheMaxEntries: 2}, Options{Logger: discardLogger()})
	require.NoError(t, err)
	for _, system := range []string{"a", "b", "c", "d"} {
		req := testRequest
		req.System = system
		_, err = p.Complete(ctx, req)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, p.(*Cached).cache.Len(), "the configured size bound is applied")

	t.Setenv("OPENAI_API_KEY", "")
	_, err = New(ctx, config.LLMConfig{Provider: config.ProviderOpenAI}, Options{})
	assert.Error(t, err)

	_, err = New(ctx, config.LLMConfig{Provider: "hal9000"}, Options{})
	assert.ErrorContains(t, err, "unknown llm provider")
}
