package chatclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ChatPane/internal/apiclient"
	"ChatPane/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoSession      = errors.New("no active session")
	ErrRequestPending = errors.New("a request is already pending")
)

// Backend is the collaborator that issues sessions and answers messages
type Backend interface {
	NewSession(ctx context.Context) (string, error)
	Chat(ctx context.Context, sessionID, message string) (*apiclient.ChatResponse, error)
}

// Exchange is the outcome of one accepted send.
// Reply is always set; Err is non-nil when Reply is the synthetic error message.
type Exchange struct {
	User  session.Message
	Reply session.Message
	Err   error
}

// Snapshot is everything a presentation layer renders.
// Version grows with every change so late deliveries can be told apart from fresh ones.
type Snapshot struct {
	Version   uint64
	SessionID string
	Messages  []session.Message
	Pending   bool
	Input     string
}

// ChatClient owns one conversation: the session id, the transcript and the pending flag
type ChatClient struct {
	backend Backend
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	sent   metric.Int64Counter
	failed metric.Int64Counter

	mu         sync.Mutex
	sessionID  string
	generation uint64 // bumped on every session replacement
	transcript session.Transcript
	pending    bool
	input      string
	version    uint64
	listeners  []func(Snapshot)
}

// Option customizes a ChatClient
type Option func(*ChatClient)

func WithLogger(logger *slog.Logger) Option {
	return func(c *ChatClient) { c.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *ChatClient) { c.tracer = tracer }
}

// WithMeter registers the send counters on meter
func WithMeter(meter metric.Meter) Option {
	return func(c *ChatClient) { c.initCounters(meter) }
}

// WithClock replaces time.Now for locally generated timestamps
func WithClock(now func() time.Time) Option {
	return func(c *ChatClient) { c.now = now }
}

// New creates a ChatClient with no session; call StartSession before sending
func New(backend Backend, opts ...Option) *ChatClient {
	c := &ChatClient{
		backend: backend,
		logger:  slog.Default(),
		tracer:  otel.Tracer("chatpane/chatclient"),
		now:     time.Now,
	}
	c.initCounters(otel.Meter("chatpane/chatclient"))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ChatClient) initCounters(meter metric.Meter) {
	var err error
	c.sent, err = meter.Int64Counter("chatpane.messages.sent",
		metric.WithDescription("User messages sent to the backend"))
	if err != nil {
		c.logger.Warn("failed to create counter", "name", "chatpane.messages.sent", "error", err)
	}
	c.failed, err = meter.Int64Counter("chatpane.messages.failed",
		metric.WithDescription("Sends that ended with the synthetic error reply"))
	if err != nil {
		c.logger.Warn("failed to create counter", "name", "chatpane.messages.failed", "error", err)
	}
}

// StartSession replaces the current conversation with a new backend session.
// On failure the previous session and transcript are left untouched.
func (c *ChatClient) StartSession(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "chatclient.start_session")
	defer span.End()

	id, err := c.backend.NewSession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("failed to create session", "error", err)
		return fmt.Errorf("failed to create session: %w", err)
	}

	c.mu.Lock()
	c.sessionID = id
	c.generation++
	c.transcript.Reset(session.WelcomeMessage(c.now()))
	snap := c.changedLocked()
	c.mu.Unlock()

	span.SetAttributes(attribute.String("chat.session_id", id))
	c.logger.Info("created new session", "session_id", id)
	c.notify(snap)
	return nil
}

// SetInput replaces the input buffer
func (c *ChatClient) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	snap := c.changedLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// SendInput sends whatever is in the input buffer
func (c *ChatClient) SendInput(ctx context.Context) (Exchange, error) {
	c.mu.Lock()
	text := c.input
	c.mu.Unlock()
	return c.SendMessage(ctx, text)
}

// SendMessage sends text and blocks until the reply (or the synthetic error reply) is appended
func (c *ChatClient) SendMessage(ctx context.Context, text string) (Exchange, error) {
	ch, err := c.Send(ctx, text)
	if err != nil {
		return Exchange{}, err
	}
	return <-ch, nil
}

// Send checks the preconditions, echoes the user message and marks the client pending,
// then resolves the backend call in the background. A rejected send returns an error
// and changes nothing. An accepted send delivers exactly one Exchange on the channel.
func (c *ChatClient) Send(ctx context.Context, text string) (<-chan Exchange, error) {
	c.mu.Lock()
	switch {
	case strings.TrimSpace(text) == "":
		c.mu.Unlock()
		return nil, ErrEmptyMessage
	case c.sessionID == "":
		c.mu.Unlock()
		return nil, ErrNoSession
	case c.pending:
		c.mu.Unlock()
		return nil, ErrRequestPending
	}

	userMsg := session.NewUserMessage(text, c.now())
	c.transcript.Append(userMsg)
	c.input = ""
	c.pending = true
	sessionID := c.sessionID
	generation := c.generation
	snap := c.changedLocked()
	c.mu.Unlock()

	c.notify(snap)

	done := make(chan Exchange, 1)
	go func() {
		done <- c.resolve(ctx, sessionID, generation, userMsg)
	}()
	return done, nil
}

// resolve performs the backend call and appends exactly one assistant message,
// to whichever transcript is current when the call returns
func (c *ChatClient) resolve(ctx context.Context, sessionID string, generation uint64, userMsg session.Message) Exchange {
	ctx, span := c.tracer.Start(ctx, "chatclient.send",
		trace.WithAttributes(attribute.String("chat.session_id", sessionID)))
	defer span.End()

	exchange := Exchange{User: userMsg}

	resp, err := c.backend.Chat(ctx, sessionID, userMsg.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("failed to send message", "session_id", sessionID, "error", err)
		c.add(ctx, c.failed)
		exchange.Err = err
		exchange.Reply = session.ErrorMessage(c.now())
	} else {
		c.add(ctx, c.sent)
		exchange.Reply = session.Message{
			ID:        resp.ID,
			Text:      resp.AssistantMessage,
			Sender:    session.SenderAssistant,
			Timestamp: resp.Timestamp,
		}
	}

	c.mu.Lock()
	if c.generation != generation {
		c.logger.Warn("reply arrived after the session was replaced", "session_id", sessionID, "current_session_id", c.sessionID)
	}
	c.transcript.Append(exchange.Reply)
	c.pending = false
	snap := c.changedLocked()
	c.mu.Unlock()

	c.notify(snap)
	return exchange
}

func (c *ChatClient) add(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}

// SessionID returns the active session id, or "" before the first successful StartSession
func (c *ChatClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Pending reports whether a send is outstanding
func (c *ChatClient) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Transcript returns a copy of the current messages
func (c *ChatClient) Transcript() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Messages()
}

// Snapshot returns the current presentation state
func (c *ChatClient) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn to be called with a fresh snapshot after every change.
// fn runs outside the client lock and may call back into the client.
func (c *ChatClient) Subscribe(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// changedLocked bumps the version and captures the new state
func (c *ChatClient) changedLocked() Snapshot {
	c.version++
	return c.snapshotLocked()
}

func (c *ChatClient) snapshotLocked() Snapshot {
	return Snapshot{
		Version:   c.version,
		SessionID: c.sessionID,
		Messages:  c.transcript.Messages(),
		Pending:   c.pending,
		Input:     c.input,
	}
}

func (c *ChatClient) notify(snap Snapshot) {
	c.mu.Lock()
	listeners := make([]func(Snapshot), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
