package llm

import "context"

// Echo repeats the last user turn back. It needs no network or API key.
type Echo struct{}

func (Echo) Name() string { return "echo" }

func (Echo) Complete(ctx context.Context, req Request) (*Completion, error) {
	for i := len(req.Turns) - 1; i >= 0; i-- {
		if req.Turns[i].Role == RoleUser {
			return &Completion{Text: "You said: " + req.Turns[i].Content}, nil
		}
	}
	return &Completion{Text: "You said nothing."}, nil
}
