package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
)

// Session is one listening session: the bot joined VoiceChannelID and posts
// transcripts to TextChannelID.
type Session struct {
	ID             string
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	StartedAt      time.Time
	EndedAt        *time.Time
	Status         SessionStatus
	StopReason     string
}

// Message is one line of channel history: a speaker's transcript or a reply
// posted by the bot.
type Message struct {
	ID        string
	SessionID string
	ChannelID string
	Author    string
	UserID    string
	IsBot     bool
	Content   string
	SpokenAt  time.Time
	CreatedAt time.Time
}
