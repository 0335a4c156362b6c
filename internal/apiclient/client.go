package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ChatPane/internal/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const maxBodySize = 5 * 1024 * 1024

// NewSessionResponse is the body of POST /api/chat/new-session
type NewSessionResponse struct {
	SessionID string `json:"session_id"`
}

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse is the reply to POST /api/chat
type ChatResponse struct {
	ID               string `json:"id"`
	SessionID        string `json:"session_id,omitempty"`
	UserMessage      string `json:"user_message,omitempty"`
	AssistantMessage string `json:"assistant_message"`
	Timestamp        string `json:"timestamp"`
}

// HistoryMessage is one stored message as returned by the history endpoint
type HistoryMessage struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
}

// HistoryResponse is the reply to GET /api/chat/history/:session_id
type HistoryResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []HistoryMessage `json:"messages"`
}

// HTTPError is returned for any non-2xx backend status
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend request failed: status=%d body=%s", e.StatusCode, e.Body)
}

// Client talks to the chat backend
type Client struct {
	base   *BaseClient
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
}

// Option customizes a Client
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.base.HTTPClient = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

func WithMeter(meter metric.Meter) Option {
	return func(c *Client) { c.meter = meter }
}

// New creates a client for the backend rooted at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   &BaseClient{BaseURL: baseURL},
		logger: slog.Default(),
		tracer: otel.Tracer("chatpane/apiclient"),
		meter:  otel.Meter("chatpane/apiclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.base.HTTPClient == nil {
		c.base.HTTPClient = newHTTPClient(c.logger)
	}
	return c
}

// NewSession asks the backend for a fresh session id
func (c *Client) NewSession(ctx context.Context) (string, error) {
	ctx, span := c.tracer.Start(ctx, "chat.new_session")
	defer span.End()

	var out NewSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat/new-session", nil, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if out.SessionID == "" {
		err := fmt.Errorf("backend returned an empty session id")
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.String("chat.session_id", out.SessionID))
	return out.SessionID, nil
}

// Chat posts one user message and returns the assistant reply
func (c *Client) Chat(ctx context.Context, sessionID, message string) (*ChatResponse, error) {
	ctx, span := c.tracer.Start(ctx, "chat.send",
		trace.WithAttributes(attribute.String("chat.session_id", sessionID)))
	defer span.End()

	var out ChatResponse
	in := ChatRequest{SessionID: sessionID, Message: message}
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", in, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &out, nil
}

// History fetches the messages the backend stored for sessionID
func (c *Client) History(ctx context.Context, sessionID string) (*HistoryResponse, error) {
	ctx, span := c.tracer.Start(ctx, "chat.history",
		trace.WithAttributes(attribute.String("chat.session_id", sessionID)))
	defer span.End()

	var out HistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/history/"+sessionID, nil, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &out, nil
}

// doJSON performs one JSON round trip against the backend
func (c *Client) doJSON(ctx context.Context, method, relPath string, in any, out any) error {
	start := time.Now()
	defer telemetry.RecordDuration(ctx, c.meter, start,
		metric.WithAttributes(attribute.String("http.route", relPath)))

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := c.base.NewRequest(ctx, method, relPath, nil, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
