package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	StartedAt      time.Time
}

type CompleteSessionInput struct {
	SessionID  string
	EndedAt    time.Time
	StopReason string
}

type InsertMessageInput struct {
	SessionID string
	ChannelID string
	Author    string
	UserID    string
	IsBot     bool
	Content   string
	SpokenAt  time.Time
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	CompleteSession(ctx context.Context, input CompleteSessionInput) error
	// GetRunningSessionByChannel returns nil when no session is running.
	GetRunningSessionByChannel(ctx context.Context, guildID, voiceChannelID string) (*Session, error)
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, input InsertMessageInput) error
	// ListRecentMessagesByChannel returns at most limit messages, oldest first.
	ListRecentMessagesByChannel(ctx context.Context, channelID string, limit int) ([]Message, error)
	ListMessagesBySession(ctx context.Context, sessionID string) ([]Message, error)
}

type Repository interface {
	SessionRepository
	MessageRepository
}
