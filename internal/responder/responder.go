package responder

import "context"

// Turn is one line of channel history handed to the responder.
type Turn struct {
	Author  string
	Content string
	// FromAssistant marks replies previously posted by the bot itself.
	FromAssistant bool
}

type Responder interface {
	Respond(ctx context.Context, history []Turn) (string, error)
}
