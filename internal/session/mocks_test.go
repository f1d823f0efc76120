package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/responder"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/webhook"
)

type mockRepository struct {
	mu             sync.Mutex
	createCount    int
	completed      []repository.CompleteSessionInput
	messages       []repository.InsertMessageInput
	running        *repository.Session
	listSessionErr error
}

func (m *mockRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCount++
	return &repository.Session{
		ID:             fmt.Sprintf("session-%d", m.createCount),
		GuildID:        input.GuildID,
		VoiceChannelID: input.VoiceChannelID,
		TextChannelID:  input.TextChannelID,
		StartedAt:      input.StartedAt,
		Status:         repository.SessionStatusRunning,
	}, nil
}

func (m *mockRepository) CompleteSession(_ context.Context, input repository.CompleteSessionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, input)
	return nil
}

func (m *mockRepository) GetRunningSessionByChannel(_ context.Context, _, _ string) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, nil
}

func (m *mockRepository) InsertMessage(_ context.Context, input repository.InsertMessageInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, input)
	return nil
}

func (m *mockRepository) ListRecentMessagesByChannel(_ context.Context, channelID string, limit int) ([]repository.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Message
	for _, in := range m.messages {
		if in.ChannelID == channelID {
			out = append(out, toMessage(in))
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockRepository) ListMessagesBySession(_ context.Context, sessionID string) ([]repository.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listSessionErr != nil {
		return nil, m.listSessionErr
	}
	var out []repository.Message
	for _, in := range m.messages {
		if in.SessionID == sessionID {
			out = append(out, toMessage(in))
		}
	}
	return out, nil
}

func (m *mockRepository) storedMessages() []repository.InsertMessageInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.InsertMessageInput(nil), m.messages...)
}

func (m *mockRepository) completedSessions() []repository.CompleteSessionInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.CompleteSessionInput(nil), m.completed...)
}

func toMessage(in repository.InsertMessageInput) repository.Message {
	return repository.Message{
		SessionID: in.SessionID,
		ChannelID: in.ChannelID,
		Author:    in.Author,
		UserID:    in.UserID,
		IsBot:     in.IsBot,
		Content:   in.Content,
		SpokenAt:  in.SpokenAt,
	}
}

type mockDiscordClient struct {
	mu                   sync.Mutex
	sendCalls            []string
	fileCalls            []discord.FileMessage
	userVoiceChannelByID map[string]string
	participants         []discord.VoiceParticipant
	voice                *mockVoiceConnection
	joinErr              error
	headerErr            error
}

func (m *mockDiscordClient) LookupDisplayName(_ context.Context, _, userID string) (string, bool, error) {
	return userID, false, nil
}
func (m *mockDiscordClient) Connect(_ context.Context) error { return nil }
func (m *mockDiscordClient) Close() error                    { return nil }
func (m *mockDiscordClient) JoinVoiceChannel(_, _ string) (discord.VoiceConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.joinErr != nil {
		return nil, m.joinErr
	}
	m.voice = &mockVoiceConnection{received: make(chan discord.VoiceHandler, 1)}
	return m.voice, nil
}
func (m *mockDiscordClient) SendChannelMessage(_ string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls = append(m.sendCalls, content)
	return nil
}
func (m *mockDiscordClient) SendChannelMessageWithFile(msg discord.FileMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileCalls = append(m.fileCalls, msg)
	return nil
}
func (m *mockDiscordClient) RegisterVoiceStateUpdateHandler(_ func(discord.VoiceStateEvent)) {}
func (m *mockDiscordClient) RegisterSlashCommandHandler(_ func(discord.SlashCommandEvent))   {}
func (m *mockDiscordClient) UpsertGuildSlashCommands(_ string, _ []discord.SlashCommandDefinition) error {
	return nil
}
func (m *mockDiscordClient) GetUserVoiceChannelID(_ context.Context, _, userID string) (string, error) {
	return m.userVoiceChannelByID[userID], nil
}
func (m *mockDiscordClient) ListVoiceChannelParticipants(_ context.Context, _, _ string) ([]discord.VoiceParticipant, error) {
	return m.participants, nil
}
func (m *mockDiscordClient) ResolveTranscriptHeader(_ context.Context, guildID, voiceChannelID string) (discord.TranscriptHeader, error) {
	if m.headerErr != nil {
		return discord.TranscriptHeader{GuildID: guildID, GuildName: guildID, VoiceChannelID: voiceChannelID, VoiceChannelName: voiceChannelID}, m.headerErr
	}
	return discord.TranscriptHeader{GuildID: guildID, GuildName: "Fox Seed", VoiceChannelID: voiceChannelID, VoiceChannelName: "General"}, nil
}
func (m *mockDiscordClient) GetBotUserID() (string, error) { return "bot-self", nil }
func (m *mockDiscordClient) Run(_ context.Context) error    { return nil }

func (m *mockDiscordClient) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sendCalls...)
}

func (m *mockDiscordClient) files() []discord.FileMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]discord.FileMessage(nil), m.fileCalls...)
}

type mockVoiceConnection struct {
	mu           sync.Mutex
	disconnected bool
	received     chan discord.VoiceHandler
}

func (m *mockVoiceConnection) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	return nil
}

func (m *mockVoiceConnection) Receive(handler discord.VoiceHandler) {
	m.received <- handler
}

func (m *mockVoiceConnection) isDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

type mockWebhookSender struct {
	mu       sync.Mutex
	payloads []webhook.TranscriptPayload
}

func (m *mockWebhookSender) SendTranscript(_ context.Context, payload webhook.TranscriptPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

type mockResponder struct {
	mu      sync.Mutex
	reply   string
	err     error
	history [][]responder.Turn
}

func (m *mockResponder) Respond(_ context.Context, history []responder.Turn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, history)
	return m.reply, m.err
}

func (m *mockResponder) calls() [][]responder.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]responder.Turn(nil), m.history...)
}

// mockDialer hands out connections that report final text on Close.
type mockDialer struct {
	final string
	dials atomic.Int32
}

func (d *mockDialer) Dial(_ context.Context, receiver transcriber.ResultReceiver) (transcriber.Conn, error) {
	d.dials.Add(1)
	return &mockConn{receiver: receiver, final: d.final}, nil
}

type mockConn struct {
	receiver transcriber.ResultReceiver
	final    string
}

func (c *mockConn) Send(_ context.Context, _ []byte) error { return nil }
func (c *mockConn) Close() error {
	if c.final != "" {
		c.receiver.OnFinal(c.final)
	}
	return nil
}
func (c *mockConn) Abort() {}

func testConfig() *config.Config {
	return &config.Config{
		Env:                   "test",
		DiscordGuildID:        "guild-1",
		STTReconnectAttempts:  1,
		VoiceSilenceTicks:     10,
		BotName:               "kiki",
		ActivationPhrase:      "hey kiki",
		ResponderHistoryLimit: 10,
		PostTranscripts:       true,
		TranscriptTimezone:    "UTC",
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func (m *mockDiscordClient) currentVoice() *mockVoiceConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voice
}
