package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"ChatPane/internal/apiclient"
	"ChatPane/internal/chatclient"
	"ChatPane/internal/session"
)

const (
	prompt        = "> "
	typingNotice  = "AI is typing..."
	continuation  = `\`
	escape        = "//"
	helpCommands  = "Type /help for commands, /quit to exit"
	inputHelpLine = "Press Enter to send, end a line with \\ for a new line"
)

// HistorySource returns what the backend stored for a session
type HistorySource interface {
	History(ctx context.Context, sessionID string) (*apiclient.HistoryResponse, error)
}

// Console renders a ChatClient to a terminal and feeds it typed input
type Console struct {
	client  *chatclient.ChatClient
	in      io.Reader
	out     io.Writer
	logger  *slog.Logger
	history HistorySource

	mu           sync.Mutex // guards out and the render state below
	version      uint64
	sessionID    string
	rendered     int
	pendingShown bool
}

// Option customizes a Console
type Option func(*Console)

// WithHistorySource enables the /saved command
func WithHistorySource(src HistorySource) Option {
	return func(c *Console) { c.history = src }
}

// New wires a console to client. Rendering starts immediately.
func New(client *chatclient.ChatClient, in io.Reader, out io.Writer, logger *slog.Logger, opts ...Option) *Console {
	c := &Console{
		client: client,
		in:     in,
		out:    out,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	client.Subscribe(c.render)
	return c
}

// render prints whatever changed since the last snapshot it saw
func (c *Console) render(snap chatclient.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.Version <= c.version {
		return
	}
	c.version = snap.Version

	if snap.SessionID != c.sessionID {
		c.sessionID = snap.SessionID
		c.rendered = 0
		fmt.Fprintf(c.out, "\n--- New chat (session %s) ---\n", snap.SessionID)
	}

	if c.rendered > len(snap.Messages) {
		c.rendered = 0
	}
	for _, msg := range snap.Messages[c.rendered:] {
		c.printMessage(msg)
	}
	c.rendered = len(snap.Messages)

	if snap.Pending && !c.pendingShown {
		fmt.Fprintln(c.out, typingNotice)
	}
	c.pendingShown = snap.Pending
}

func (c *Console) printMessage(msg session.Message) {
	who := "Assistant"
	if msg.Sender == session.SenderUser {
		who = "You"
	}
	fmt.Fprintf(c.out, "[%s] %s: %s\n", formatTime(msg.Timestamp), who, msg.Text)
}

// formatTime renders a message timestamp as local HH:MM
func formatTime(ts string) string {
	t, err := session.ParseTimestamp(ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("15:04")
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) printHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.client.Transcript()
	if len(msgs) == 0 {
		fmt.Fprintln(c.out, "No messages yet.")
		return
	}
	for _, msg := range msgs {
		c.printMessage(msg)
	}
}

func (c *Console) printSaved(ctx context.Context) {
	if c.history == nil {
		c.printf("Saved history is not available.\n")
		return
	}
	sessionID := c.client.SessionID()
	if sessionID == "" {
		c.printf("No active session.\n")
		return
	}

	resp, err := c.history.History(ctx, sessionID)
	if err != nil {
		c.logger.Error("failed to load saved history", "session_id", sessionID, "error", err)
		c.printf("Could not load saved history.\n")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "Saved on the backend (%d messages):\n", len(resp.Messages))
	for _, m := range resp.Messages {
		c.printMessage(session.Message{
			ID:        m.ID,
			Text:      m.Message,
			Sender:    session.Sender(m.Sender),
			Timestamp: m.Timestamp,
		})
	}
}

// handleCommand handles slash commands; it reports whether the console should exit
func (c *Console) handleCommand(ctx context.Context, cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true

	case "/new", "/new-session":
		// failures are logged by the client and leave the current chat in place
		c.client.StartSession(ctx)
		return false

	case "/history":
		c.printHistory()
		return false

	case "/saved":
		c.printSaved(ctx)
		return false

	case "/help":
		c.printf("Available commands:\n" +
			"  /new, /new-session  - Start a new chat\n" +
			"  /history            - Show the whole conversation again\n" +
			"  /saved              - Show what the backend stored for this chat\n" +
			"  /help               - Show this help message\n" +
			"  /quit, /exit        - Exit\n" +
			"Start a message with // to send a line beginning with /\n")
		return false

	default:
		c.printf("Unknown command: %s (type /help)\n", parts[0])
		return false
	}
}

// readLines feeds lines from in until EOF or ctx is done. The error channel receives
// exactly one value, before lines is closed.
func (c *Console) readLines(ctx context.Context) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		var err error
		defer func() {
			errc <- err
			close(lines)
		}()

		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		err = scanner.Err()
	}()

	return lines, errc
}

// Run bootstraps a session and reads input until EOF, /quit or ctx is done.
// Cancellation is a normal exit.
func (c *Console) Run(ctx context.Context) error {
	c.printf("=== ChatPane ===\n%s\n%s\n", helpCommands, inputHelpLine)

	if err := c.client.StartSession(ctx); err != nil {
		c.logger.Warn("starting without a session", "error", err)
	}

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines, errc := c.readLines(readCtx)
	var buf strings.Builder

loop:
	for {
		if buf.Len() == 0 {
			c.printf("%s", prompt)
		}

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			c.printf("\n")
			break loop
		case line, ok = <-lines:
		}
		if !ok {
			if err := <-errc; err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			break loop
		}

		if strings.HasSuffix(line, continuation) {
			buf.WriteString(strings.TrimSuffix(line, continuation))
			buf.WriteString("\n")
			continue
		}
		buf.WriteString(line)
		text := buf.String()
		buf.Reset()

		trimmed := strings.TrimSpace(text)
		switch {
		case strings.HasPrefix(trimmed, escape):
			text = strings.Replace(text, escape, "/", 1)
		case strings.HasPrefix(trimmed, "/") && !strings.Contains(text, "\n"):
			if c.handleCommand(ctx, trimmed) {
				break loop
			}
			continue
		}

		c.client.SetInput(text)
		if _, err := c.client.SendInput(ctx); err != nil {
			// rejected sends are no-ops; nothing to show
			c.logger.Debug("send skipped", "reason", err)
		}
	}

	c.printf("Goodbye!\n")
	return nil
}
