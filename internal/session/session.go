package session

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

const (
	WelcomeID   = "welcome"
	WelcomeText = "Hello! I'm your AI assistant. How can I help you today?"
	ErrorText   = "Sorry, I encountered an error. Please try again."
)

// timestampLayout matches the millisecond ISO-8601 form browsers produce
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message represents a single chat message
type Message struct {
	ID        string `json:"id"`
	Text      string `json:"message"`
	Sender    Sender `json:"sender"`
	Timestamp string `json:"timestamp"`
}

// FormatTimestamp renders t in UTC as an ISO-8601 string
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp accepts the timestamp shapes the backend is known to emit.
// Offsets are optional since some servers serialize naive UTC datetimes.
func ParseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
	}
	var err error
	for _, layout := range layouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// NewUserMessage creates a locally authored message with a client generated id
func NewUserMessage(text string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    SenderUser,
		Timestamp: FormatTimestamp(now),
	}
}

// WelcomeMessage is the synthetic greeting seeded into every new transcript
func WelcomeMessage(now time.Time) Message {
	return Message{
		ID:        WelcomeID,
		Text:      WelcomeText,
		Sender:    SenderAssistant,
		Timestamp: FormatTimestamp(now),
	}
}

// ErrorMessage stands in for the assistant reply when the backend call fails
func ErrorMessage(now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      ErrorText,
		Sender:    SenderAssistant,
		Timestamp: FormatTimestamp(now),
	}
}

// Transcript is the ordered list of messages for one session.
// Insertion order is display order.
type Transcript struct {
	messages []Message
}

// Append adds msg to the end of the transcript
func (t *Transcript) Append(msg Message) {
	t.messages = append(t.messages, msg)
}

// Reset discards every message and reseeds the transcript with msgs
func (t *Transcript) Reset(msgs ...Message) {
	t.messages = append([]Message(nil), msgs...)
}

// Messages returns a copy safe to hand to other goroutines
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}
