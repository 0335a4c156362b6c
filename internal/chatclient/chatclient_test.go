package chatclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ChatPane/internal/apiclient"
	"ChatPane/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records calls and answers from its configured fields.
// When gate is non-nil, Chat blocks until a value is sent on it.
type fakeBackend struct {
	mu         sync.Mutex
	sessionIDs []string
	sessionErr error
	reply      *apiclient.ChatResponse
	chatErr    error
	gate       chan struct{}
	chatCalls  []apiclient.ChatRequest
	newCalls   int
}

func (f *fakeBackend) NewSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newCalls++
	if f.sessionErr != nil {
		return "", f.sessionErr
	}
	id := f.sessionIDs[0]
	if len(f.sessionIDs) > 1 {
		f.sessionIDs = f.sessionIDs[1:]
	}
	return id, nil
}

func (f *fakeBackend) Chat(ctx context.Context, sessionID, message string) (*apiclient.ChatResponse, error) {
	f.mu.Lock()
	f.chatCalls = append(f.chatCalls, apiclient.ChatRequest{SessionID: sessionID, Message: message})
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.reply, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chatCalls)
}

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestClient(backend Backend) *ChatClient {
	return New(backend,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func helloBackend() *fakeBackend {
	return &fakeBackend{
		sessionIDs: []string{"abc"},
		reply: &apiclient.ChatResponse{
			ID:               "1",
			AssistantMessage: "Hello!",
			Timestamp:        "2024-01-01T00:00:00Z",
		},
	}
}

func TestStartSession_SeedsWelcome(t *testing.T) {
	client := newTestClient(helloBackend())

	require.NoError(t, client.StartSession(context.Background()))

	assert.Equal(t, "abc", client.SessionID())
	msgs := client.Transcript()
	require.Len(t, msgs, 1)
	assert.Equal(t, session.SenderAssistant, msgs[0].Sender)
	assert.Equal(t, session.WelcomeText, msgs[0].Text)
	assert.Equal(t, session.FormatTimestamp(fixedNow), msgs[0].Timestamp)
}

func TestStartSession_ReplacesConversation(t *testing.T) {
	backend := helloBackend()
	backend.sessionIDs = []string{"abc", "def"}
	client := newTestClient(backend)
	ctx := context.Background()

	require.NoError(t, client.StartSession(ctx))
	_, err := client.SendMessage(ctx, "Hi")
	require.NoError(t, err)
	require.Len(t, client.Transcript(), 3)

	require.NoError(t, client.StartSession(ctx))
	assert.Equal(t, "def", client.SessionID())
	msgs := client.Transcript()
	require.Len(t, msgs, 1)
	assert.Equal(t, session.WelcomeID, msgs[0].ID)
}

func TestStartSession_FailureLeavesStateAlone(t *testing.T) {
	backend := helloBackend()
	client := newTestClient(backend)
	ctx := context.Background()

	backend.sessionErr = errors.New("backend down")
	assert.Error(t, client.StartSession(ctx))
	assert.Empty(t, client.SessionID())
	assert.Empty(t, client.Transcript())

	_, err := client.SendMessage(ctx, "Hi")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Zero(t, backend.calls())

	backend.sessionErr = nil
	require.NoError(t, client.StartSession(ctx))
	_, err = client.SendMessage(ctx, "Hi")
	require.NoError(t, err)
	before := client.Transcript()

	backend.sessionErr = errors.New("backend down again")
	assert.Error(t, client.StartSession(ctx))
	assert.Equal(t, "abc", client.SessionID(), "previous session is retained")
	assert.Equal(t, before, client.Transcript())
}

func TestSendMessage_Success(t *testing.T) {
	backend := helloBackend()
	client := newTestClient(backend)
	ctx := context.Background()
	require.NoError(t, client.StartSession(ctx))

	exchange, err := client.SendMessage(ctx, "Hi")
	require.NoError(t, err)
	assert.NoError(t, exchange.Err)

	msgs := client.Transcript()
	require.Len(t, msgs, 3)
	assert.Equal(t, session.SenderUser, msgs[1].Sender)
	assert.Equal(t, "Hi", msgs[1].Text)
	assert.NotEmpty(t, msgs[1].ID)
	assert.Equal(t, session.Message{
		ID:        "1",
		Text:      "Hello!",
		Sender:    session.SenderAssistant,
		Timestamp: "2024-01-01T00:00:00Z",
	}, msgs[2])
	assert.Equal(t, msgs[2], exchange.Reply)
	assert.False(t, client.Pending())

	require.Len(t, backend.chatCalls, 1)
	assert.Equal(t, apiclient.ChatRequest{SessionID: "abc", Message: "Hi"}, backend.chatCalls[0])
}

func TestSendMessage_BackendFailure(t *testing.T) {
	backend := helloBackend()
	client := newTestClient(backend)
	ctx := context.Background()
	require.NoError(t, client.StartSession(ctx))

	backend.chatErr = errors.New("connection refused")
	exchange, err := client.SendMessage(ctx, "Hi")
	require.NoError(t, err, "a backend failure is not a rejected send")
	assert.EqualError(t, exchange.Err, "connection refused")

	msgs := client.Transcript()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Hi", msgs[1].Text)
	assert.Equal(t, session.SenderAssistant, msgs[2].Sender)
	assert.Equal(t, session.ErrorText, msgs[2].Text)
	assert.Equal(t, session.FormatTimestamp(fixedNow), msgs[2].Timestamp)
	assert.False(t, client.Pending())

	// the user may retry manually
	backend.chatErr = nil
	_, err = client.SendMessage(ctx, "Hi")
	require.NoError(t, err)
	assert.Len(t, client.Transcript(), 5)
}

func TestSendMessage_RejectsBlankText(t *testing.T) {
	backend := helloBackend()
	client := newTestClient(backend)
	ctx := context.Background()
	require.NoError(t, client.StartSession(ctx))

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := client.SendMessage(ctx, text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Len(t, client.Transcript(), 1)
	assert.Zero(t, backend.calls())
}

func TestSendMessage_SendsUntrimmedText(t *testing.T) {
	backend := helloBackend()
	client := newTestClient(backend)
	ctx := context.Background()
	require.NoError(t, client.StartSession(ctx))

	_, err := client.SendMessage(ctx, "  Hi there  ")
	require.NoError(t, err)
	assert.Equal(t, "  Hi there  ", backend.chatCalls[0].Message)
}

func TestSend_RejectsWhilePending(t *testing.T) {
	backend := helloBackend()
	backend.gate = make(chan struct{})
	client := newTestClient(backend)
	ctx := context.Background()
	require.NoError(t, client.StartSession(ctx))

	done, err := client.Send(ctx, "first")
	require.NoError(t, err)

	// optimistic echo is visible before the backend answers
	assert.True(t, client.Pending())
	msgs := client.Transcript()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[1].Text)

	for _, text := range []string{"second", "", "third"} {
		_, err := client.Send(ctx, text)
		assert.Error(t, err)
	}
	_, err = client.Send(ctx, "second")
	assert.ErrorIs(t, err, ErrRequestPending)
	assert.Len(t, client.Transcript(), 2)

	close(backend.gate)
	exchange := <-done
	assert.Equal(t, "Hello!", exchange.Reply.Text)
	assert.False(t, client.Pending())
	assert.Len(t, client.Transcript(), 3)
	assert.Equal(t, 1, backend.calls())
}

func TestSend_ReplyAfterResetIsStillAppended(t *testing.T) {
	backend := helloBackend()
	backend.sessionIDs = []string{"abc", "def"}
	backend.gate = make(chan struct{})
	client := newTestClient(backend)
	ctx := context.Background()
	require.NoError(t, client.StartSession(ctx))

	done, err := client.Send(ctx, "Hi")
	require.NoError(t, err)

	require.NoError(t, client.StartSession(ctx))
	close(backend.gate)
	exchange := <-done

	msgs := client.Transcript()
	require.Len(t, msgs, 2, "welcome plus the one reply of the accepted send")
	assert.Equal(t, session.WelcomeID, msgs[0].ID)
	assert.Equal(t, exchange.Reply, msgs[1])
	assert.Equal(t, "Hello!", msgs[1].Text)
	assert.Equal(t, "def", client.SessionID())
	assert.False(t, client.Pending())
}

func TestSendInput_ClearsBuffer(t *testing.T) {
	backend := helloBackend()
	client := newTestClient(backend)
	ctx := context.Background()
	require.NoError(t, client.StartSession(ctx))

	client.SetInput("Hi")
	assert.Equal(t, "Hi", client.Snapshot().Input)

	_, err := client.SendInput(ctx)
	require.NoError(t, err)
	assert.Empty(t, client.Snapshot().Input)
	assert.Equal(t, "Hi", backend.chatCalls[0].Message)

	client.SetInput("   ")
	_, err = client.SendInput(ctx)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, "   ", client.Snapshot().Input, "rejected send leaves the buffer alone")
}

func TestSubscribe_ObservesEveryChange(t *testing.T) {
	backend := helloBackend()
	client := newTestClient(backend)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		snaps []Snapshot
	)
	client.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	})

	require.NoError(t, client.StartSession(ctx))
	_, err := client.SendMessage(ctx, "Hi")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snaps, 3)

	assert.Len(t, snaps[0].Messages, 1)
	assert.False(t, snaps[0].Pending)

	assert.Len(t, snaps[1].Messages, 2, "user echo")
	assert.True(t, snaps[1].Pending)
	assert.Empty(t, snaps[1].Input)

	assert.Len(t, snaps[2].Messages, 3, "assistant reply")
	assert.False(t, snaps[2].Pending)

	for i := 1; i < len(snaps); i++ {
		assert.Greater(t, snaps[i].Version, snaps[i-1].Version)
	}
}

func TestSendMessage_ExactlyOneReplyPerAcceptedSend(t *testing.T) {
	backend := helloBackend()
	client := newTestClient(backend)
	ctx := context.Background()
	require.NoError(t, client.StartSession(ctx))

	inputs := []string{"a", " ", "b", "", "c"}
	accepted := 0
	for i, text := range inputs {
		if i == 2 {
			backend.chatErr = errors.New("flaky")
		} else {
			backend.chatErr = nil
		}
		if _, err := client.SendMessage(ctx, text); err == nil {
			accepted++
		}
	}

	msgs := client.Transcript()
	require.Len(t, msgs, 1+2*accepted)
	for i := 1; i < len(msgs); i += 2 {
		assert.Equal(t, session.SenderUser, msgs[i].Sender)
		assert.Equal(t, session.SenderAssistant, msgs[i+1].Sender)
	}
}

func TestFailuresAreLogged(t *testing.T) {
	var logs bytes.Buffer
	backend := helloBackend()
	client := New(backend,
		WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))),
		WithClock(func() time.Time { return fixedNow }),
	)
	ctx := context.Background()

	backend.sessionErr = errors.New("backend down")
	require.Error(t, client.StartSession(ctx))
	assert.Contains(t, logs.String(), `"msg":"failed to create session"`)
	assert.Contains(t, logs.String(), `"error":"backend down"`)

	backend.sessionErr = nil
	require.NoError(t, client.StartSession(ctx))
	logs.Reset()

	backend.chatErr = errors.New("connection refused")
	exchange, err := client.SendMessage(ctx, "Hi")
	require.NoError(t, err)
	require.Error(t, exchange.Err)

	out := logs.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"msg":"failed to send message"`)
	assert.Contains(t, out, `"session_id":"abc"`)
	assert.Contains(t, out, `"error":"connection refused"`)
}
