package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ChatPane/internal/cache"
	"ChatPane/internal/config"
	"ChatPane/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior message of the conversation
type Turn struct {
	Role    string
	Content string
}

// Request is everything a provider needs to write the next assistant reply
type Request struct {
	System    string
	Turns     []Turn
	MaxTokens int
}

// Completion is the assistant reply plus whatever usage numbers the provider reported
type Completion struct {
	Text  string
	Usage map[string]int64
}

// Provider writes assistant replies
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Options carries the shared plumbing handed to every provider
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
}

func (o *Options) setDefaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tracer == nil {
		o.Tracer = tracenoop.NewTracerProvider().Tracer("llm")
	}
	if o.Meter == nil {
		o.Meter = metricnoop.NewMeterProvider().Meter("llm")
	}
}

// New builds the provider named by cfg.Provider, instrumented and optionally cached
func New(ctx context.Context, cfg config.LLMConfig, opts Options) (Provider, error) {
	opts.setDefaults()

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		p, err = NewOpenAI(cfg.Model, cfg.BaseURL, opts.HTTPClient)
	case config.ProviderGrok:
		p, err = NewGrok(cfg.Model, cfg.BaseURL, opts.HTTPClient)
	case config.ProviderAnthropic:
		p, err = NewAnthropic(cfg.Model, cfg.BaseURL, opts.HTTPClient)
	case config.ProviderOllama:
		p = NewOllama(cfg.Model, cfg.BaseURL, opts.HTTPClient)
	case config.ProviderGemini:
		p, err = NewGemini(ctx, cfg.Model, cfg.BaseURL, opts.HTTPClient)
	case config.ProviderEcho:
		p = Echo{}
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	p = &instrumented{Provider: p, tracer: opts.Tracer, meter: opts.Meter, logger: opts.Logger}
	if cfg.Cache {
		p = NewCached(p, cache.New(cfg.CacheTTL, cfg.CacheMaxEntries), opts.Logger)
	}
	return p, nil
}

// instrumented wraps a provider with a span, the request duration histogram and usage counters
type instrumented struct {
	Provider
	tracer trace.Tracer
	meter  metric.Meter
	logger *slog.Logger
}

func (p *instrumented) Complete(ctx context.Context, req Request) (*Completion, error) {
	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("llm.%s.complete", p.Name()),
		trace.WithAttributes(attribute.Int("llm.turns", len(req.Turns))))
	defer span.End()

	start := time.Now()
	out, err := p.Provider.Complete(ctx, req)
	telemetry.RecordDuration(ctx, p.meter, start,
		metric.WithAttributes(attribute.String("llm.provider", p.Name())))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	p.recordUsage(ctx, out.Usage)
	return out, nil
}

func (p *instrumented) recordUsage(ctx context.Context, usage map[string]int64) {
	for key, value := range usage {
		counter, err := p.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			p.logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, value, metric.WithAttributes(attribute.String("llm.provider", p.Name())))
	}
}

// numericUsage keeps the integer-valued entries of a decoded JSON usage object
func numericUsage(usage map[string]any) map[string]int64 {
	out := make(map[string]int64, len(usage))
	for key, value := range usage {
		if n, ok := value.(float64); ok {
			out[key] = int64(n)
		}
	}
	return out
}

// postJSON sends in as JSON and decodes a 200 response into out
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, in, out any) error {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return do(client, req, out)
}

func do(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
