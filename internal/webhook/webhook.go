package webhook

import (
	"context"
	"time"
)

// TranscriptPayload is posted to the transcript webhook once per finished
// utterance.
type TranscriptPayload struct {
	SessionID string    `json:"session_id"`
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	Speaker   string    `json:"speaker"`
	UserID    string    `json:"user_id,omitempty"`
	IsBot     bool      `json:"is_bot"`
	Text      string    `json:"text"`
	SpokenAt  time.Time `json:"spoken_at"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptPayload) error
}
