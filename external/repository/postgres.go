package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxHistoryLimit = 500

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

const sessionColumns = `id, guild_id, voice_channel_id, text_channel_id, started_at, ended_at, status, stop_reason`

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	if err := row.Scan(&s.ID, &s.GuildID, &s.VoiceChannelID, &s.TextChannelID, &s.StartedAt, &s.EndedAt, &s.Status, &s.StopReason); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO sessions (guild_id, voice_channel_id, text_channel_id, started_at, status)
		 VALUES ($1, $2, $3, $4, 'running')
		 RETURNING `+sessionColumns,
		input.GuildID, input.VoiceChannelID, input.TextChannelID, input.StartedAt)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) CompleteSession(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = $2, stop_reason = $3 WHERE id = $1`,
		input.SessionID, input.EndedAt, input.StopReason)
	if err != nil {
		return fmt.Errorf("failed to complete session %s: %w", input.SessionID, err)
	}
	return nil
}

func (r *PostgresRepository) GetRunningSessionByChannel(ctx context.Context, guildID, voiceChannelID string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions WHERE guild_id = $1 AND voice_channel_id = $2 AND status = 'running'
		 ORDER BY started_at DESC LIMIT 1`,
		guildID, voiceChannelID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) InsertMessage(ctx context.Context, input repository.InsertMessageInput) error {
	var sessionID *string
	if input.SessionID != "" {
		sessionID = &input.SessionID
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (session_id, channel_id, author, user_id, is_bot, content, spoken_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sessionID, input.ChannelID, input.Author, input.UserID, input.IsBot, input.Content, input.SpokenAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRecentMessagesByChannel(ctx context.Context, channelID string, limit int) ([]repository.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT * FROM messages
			WHERE channel_id = $1 ORDER BY spoken_at DESC, created_at DESC LIMIT $2
		 ) recent ORDER BY spoken_at ASC, created_at ASC`,
		channelID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *PostgresRepository) ListMessagesBySession(ctx context.Context, sessionID string) ([]repository.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = $1 ORDER BY spoken_at ASC, created_at ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

const messageColumns = `id, COALESCE(session_id::text, ''), channel_id, author, user_id, is_bot, content, spoken_at, created_at`

func collectMessages(rows pgx.Rows) ([]repository.Message, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.Message, error) {
		var m repository.Message
		err := row.Scan(&m.ID, &m.SessionID, &m.ChannelID, &m.Author, &m.UserID, &m.IsBot, &m.Content, &m.SpokenAt, &m.CreatedAt)
		return m, err
	})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 1
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
