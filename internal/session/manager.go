package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/listener"
	"github.com/foxseedlab/kikitori/internal/observe"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/retry"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

const (
	finalizeTimeout   = 60 * time.Second
	repositoryTimeout = 10 * time.Second
)

var errSessionAlreadyRunning = errors.New("session already running")

type Manager struct {
	cfg     *config.Config
	repo    repository.Repository
	discord discord.Client
	dialer  transcriber.Dialer
	relay   *Relay
	metrics *observe.Metrics
	loc     *time.Location

	mu         sync.Mutex
	sessions   map[string]*runningSession
	botUserID  string
	finalizing sync.WaitGroup
}

type runningSession struct {
	repoSession  *repository.Session
	voice        discord.VoiceConnection
	dispatcher   *listener.Dispatcher
	participants map[string]struct{}
}

func NewManager(cfg *config.Config, repo repository.Repository, dc discord.Client, dialer transcriber.Dialer, relay *Relay, metrics *observe.Metrics) *Manager {
	loc, err := time.LoadLocation(cfg.TranscriptTimezone)
	if err != nil {
		loc = time.UTC
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &Manager{
		cfg:      cfg,
		repo:     repo,
		discord:  dc,
		dialer:   dialer,
		relay:    relay,
		metrics:  metrics,
		loc:      loc,
		sessions: make(map[string]*runningSession),
	}
}

func SlashCommandDefinitions() []discord.SlashCommandDefinition {
	return []discord.SlashCommandDefinition{
		{Name: commandListen, Description: slashCommandStartDescription},
		{Name: commandListenStop, Description: slashCommandStopDescription},
	}
}

func (m *Manager) SetBotUserID(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = userID
}

func (m *Manager) sessionKey(guildID, voiceChannelID string) string {
	return guildID + ":" + voiceChannelID
}

func (m *Manager) isSessionRunning(guildID, voiceChannelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[m.sessionKey(guildID, voiceChannelID)]
	return ok
}

func (m *Manager) HandleSlashCommand(event discord.SlashCommandEvent) {
	respond := func(content string) {
		if event.RespondEphemeral == nil {
			return
		}
		if err := event.RespondEphemeral(content); err != nil {
			slog.Error("failed to respond to slash command", "error", err, "command", event.CommandName)
		}
	}
	if event.GuildID != m.cfg.DiscordGuildID {
		respond(messageEphemeralWrongGuild)
		return
	}
	switch event.CommandName {
	case commandListen, commandListenStop:
	default:
		respond(messageEphemeralUnknownCommand)
		return
	}

	lookupCtx, cancel := context.WithTimeout(context.Background(), repositoryTimeout)
	voiceChannelID, err := m.discord.GetUserVoiceChannelID(lookupCtx, event.GuildID, event.UserID)
	cancel()
	if err != nil {
		slog.Error("failed to look up user voice channel", "error", err, "user_id", event.UserID)
		respond(messageEphemeralVoiceLookupFailed)
		return
	}
	if voiceChannelID == "" {
		respond(messageEphemeralJoinVCFirst)
		return
	}

	if event.CommandName == commandListenStop {
		if !m.stopSession(event.GuildID, voiceChannelID, stopReasonManualSlash) {
			respond(messageEphemeralNotRunning)
			return
		}
		respond(stopEphemeral(voiceChannelID))
		return
	}

	err = m.startSession(event.GuildID, voiceChannelID, event.ChannelID)
	switch {
	case errors.Is(err, errSessionAlreadyRunning):
		respond(messageEphemeralAlreadyRunning)
	case err != nil:
		slog.Error("failed to start session", "error", err, "guild_id", event.GuildID, "voice_channel_id", voiceChannelID)
		respond(messageEphemeralStartFailed)
	default:
		respond(startEphemeral(voiceChannelID))
	}
}

func (m *Manager) startSession(guildID, voiceChannelID, textChannelID string) error {
	key := m.sessionKey(guildID, voiceChannelID)
	if m.isSessionRunning(guildID, voiceChannelID) {
		return errSessionAlreadyRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), repositoryTimeout)
	defer cancel()
	if err := m.completeOrphanSession(ctx, guildID, voiceChannelID); err != nil {
		return err
	}

	voice, err := m.discord.JoinVoiceChannel(guildID, voiceChannelID)
	if err != nil {
		return fmt.Errorf("failed to join voice channel: %w", err)
	}
	created, err := m.repo.CreateSession(ctx, repository.CreateSessionInput{
		GuildID:        guildID,
		VoiceChannelID: voiceChannelID,
		TextChannelID:  textChannelID,
		StartedAt:      time.Now(),
	})
	if err != nil {
		_ = voice.Disconnect()
		return err
	}

	registry := listener.NewRegistry(guildID, m.discord)
	dispatcher := listener.NewDispatcher(registry, listener.PipelineConfig{
		Dialer:    m.dialer,
		Sink:      m.relay.SinkFor(created.ID, guildID),
		ChannelID: textChannelID,
		Reconnect: retry.Policy{
			MaxAttempts: m.cfg.STTReconnectAttempts,
			Backoff:     m.cfg.ReconnectBackoff(),
		},
		Metrics: m.metrics,
	})
	rs := &runningSession{
		repoSession:  created,
		voice:        voice,
		dispatcher:   dispatcher,
		participants: m.currentHumanParticipants(ctx, guildID, voiceChannelID),
	}

	m.mu.Lock()
	if _, exists := m.sessions[key]; exists {
		m.mu.Unlock()
		_ = voice.Disconnect()
		return errSessionAlreadyRunning
	}
	m.sessions[key] = rs
	m.mu.Unlock()

	slog.Info("session started", "session_id", created.ID, "guild_id", guildID, "voice_channel_id", voiceChannelID, "channel_id", textChannelID, "participants", len(rs.participants))
	if err := m.discord.SendChannelMessage(textChannelID, startChannelMessage()); err != nil {
		slog.Warn("failed to post start message", "error", err, "session_id", created.ID)
	}
	go voice.Receive(dispatcher)
	return nil
}

func (m *Manager) completeOrphanSession(ctx context.Context, guildID, voiceChannelID string) error {
	orphan, err := m.repo.GetRunningSessionByChannel(ctx, guildID, voiceChannelID)
	if err != nil {
		return fmt.Errorf("failed to query running session: %w", err)
	}
	if orphan == nil {
		return nil
	}
	slog.Warn("completing orphan running session", "session_id", orphan.ID, "guild_id", guildID, "voice_channel_id", voiceChannelID)
	return m.repo.CompleteSession(ctx, repository.CompleteSessionInput{
		SessionID:  orphan.ID,
		EndedAt:    time.Now(),
		StopReason: stopReasonServerClosed,
	})
}

func (m *Manager) currentHumanParticipants(ctx context.Context, guildID, voiceChannelID string) map[string]struct{} {
	participants := make(map[string]struct{})
	list, err := m.discord.ListVoiceChannelParticipants(ctx, guildID, voiceChannelID)
	if err != nil {
		slog.Warn("failed to list voice channel participants", "error", err, "voice_channel_id", voiceChannelID)
		return participants
	}
	for _, p := range list {
		if m.shouldCountParticipant(p.UserID, p.IsBot) {
			participants[p.UserID] = struct{}{}
		}
	}
	return participants
}

// shouldCountParticipant reports whether userID keeps a session alive. Only
// humans do.
func (m *Manager) shouldCountParticipant(userID string, isBot bool) bool {
	m.mu.Lock()
	self := m.botUserID
	m.mu.Unlock()
	return userID != "" && userID != self && !isBot
}

func (m *Manager) HandleVoiceStateUpdate(event discord.VoiceStateEvent) {
	if event.GuildID != m.cfg.DiscordGuildID {
		return
	}
	m.mu.Lock()
	self := m.botUserID
	m.mu.Unlock()

	if event.UserID == self {
		if event.BeforeChannelID != "" && event.BeforeChannelID != event.AfterChannelID {
			m.stopSession(event.GuildID, event.BeforeChannelID, stopReasonBotRemoved)
		}
		return
	}
	if !m.shouldCountParticipant(event.UserID, event.UserIsBot) {
		return
	}

	var emptied []string
	m.mu.Lock()
	for _, rs := range m.sessions {
		vc := rs.repoSession.VoiceChannelID
		if rs.repoSession.GuildID != event.GuildID {
			continue
		}
		if vc == event.AfterChannelID {
			rs.participants[event.UserID] = struct{}{}
			continue
		}
		if _, ok := rs.participants[event.UserID]; !ok {
			continue
		}
		delete(rs.participants, event.UserID)
		if len(rs.participants) == 0 {
			emptied = append(emptied, vc)
		}
	}
	m.mu.Unlock()

	for _, vc := range emptied {
		m.stopSession(event.GuildID, vc, stopReasonParticipantsLeft)
	}
}

// stopSession detaches the session and finalizes it in the background. It
// reports whether a session was running.
func (m *Manager) stopSession(guildID, voiceChannelID, reason string) bool {
	key := m.sessionKey(guildID, voiceChannelID)
	m.mu.Lock()
	rs, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
		m.finalizing.Add(1)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	slog.Info("stopping session", "session_id", rs.repoSession.ID, "voice_channel_id", voiceChannelID, "reason", reason)
	if err := rs.voice.Disconnect(); err != nil {
		slog.Warn("voice disconnect failed", "error", err, "session_id", rs.repoSession.ID)
	}
	go func() {
		defer m.finalizing.Done()
		m.finalizeSession(rs, reason)
	}()
	return true
}

// StopAllSessions stops every running session and waits for them to be
// finalized.
func (m *Manager) StopAllSessions(reason string) int {
	m.mu.Lock()
	targets := make([]*repository.Session, 0, len(m.sessions))
	for _, rs := range m.sessions {
		targets = append(targets, rs.repoSession)
	}
	m.mu.Unlock()

	count := 0
	for _, s := range targets {
		if m.stopSession(s.GuildID, s.VoiceChannelID, reason) {
			count++
		}
	}
	m.finalizing.Wait()
	return count
}

// finalizeSession lets every speaker pipeline flush its last transcript, then
// posts the session transcript and marks the session completed.
func (m *Manager) finalizeSession(rs *runningSession, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	s := rs.repoSession
	logger := slog.With("session_id", s.ID, "channel_id", s.TextChannelID)

	if err := rs.dispatcher.Close(ctx); err != nil {
		logger.Warn("speaker pipelines did not finish in time", "error", err)
	}
	if err := m.relay.Flush(ctx, s.TextChannelID); err != nil {
		logger.Warn("relay did not drain in time", "error", err)
	}

	endedAt := time.Now()
	header, err := m.discord.ResolveTranscriptHeader(ctx, s.GuildID, s.VoiceChannelID)
	if err != nil {
		logger.Warn("failed to resolve transcript header; using ids", "error", err)
	}
	messages, err := m.repo.ListMessagesBySession(ctx, s.ID)
	if err != nil {
		logger.Error("failed to list session messages", "error", err)
	}
	if len(messages) > 0 {
		err = m.discord.SendChannelMessageWithFile(discord.FileMessage{
			ChannelID: s.TextChannelID,
			Content:   stopChannelMessage(reason) + "\n" + messageAttachmentTitle,
			Filename:  transcriptFilename(s, m.loc),
			FileBody:  buildTranscriptText(header, s, endedAt, m.cfg.TranscriptTimezone, m.loc, messages),
		})
	} else {
		err = m.discord.SendChannelMessage(s.TextChannelID, stopChannelMessage(reason))
	}
	if err != nil {
		logger.Error("failed to post stop message", "error", err)
	}

	if err := m.repo.CompleteSession(ctx, repository.CompleteSessionInput{
		SessionID:  s.ID,
		EndedAt:    endedAt,
		StopReason: reason,
	}); err != nil {
		logger.Error("failed to complete session", "error", err)
	}
	logger.Info("session finalized", "reason", reason, "messages", len(messages))
}

// Shutdown stops every running session because the bot is going away.
func (m *Manager) Shutdown() int {
	return m.StopAllSessions(stopReasonServerClosed)
}
