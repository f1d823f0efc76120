package discord

import "context"

type FileMessage struct {
	ChannelID string
	Content   string
	Filename  string
	FileBody  []byte
}

type SlashCommandDefinition struct {
	Name        string
	Description string
}

type SlashCommandEvent struct {
	GuildID          string
	ChannelID        string
	CommandName      string
	UserID           string
	RespondEphemeral func(content string) error
}

type VoiceStateEvent struct {
	GuildID         string
	UserID          string
	UserIsBot       bool
	BeforeChannelID string
	AfterChannelID  string
}

// TranscriptHeader names the place a session took place. Names fall back to
// the corresponding IDs when they cannot be resolved.
type TranscriptHeader struct {
	GuildID          string
	GuildName        string
	VoiceChannelID   string
	VoiceChannelName string
}

type VoiceParticipant struct {
	UserID string
	IsBot  bool
}

// Frame is one SSRC's decoded audio for a single tick: interleaved 48 kHz
// stereo samples. Decoded is nil when decoding was unavailable.
type Frame struct {
	Decoded []int16
}

// Tick is one delivery cycle of the voice transport.
type Tick struct {
	Speaking map[uint32]Frame
	// Silent lists SSRCs that stopped producing audio during this cycle.
	Silent []uint32
}

type SpeakingUpdate struct {
	SSRC     uint32
	UserID   string
	Speaking bool
}

// VoiceHandler consumes voice events. HandleTick is never called
// concurrently with itself for the same connection.
type VoiceHandler interface {
	HandleTick(tick Tick)
	HandleSpeakingUpdate(update SpeakingUpdate)
}

type Directory interface {
	LookupDisplayName(ctx context.Context, guildID, userID string) (name string, isBot bool, err error)
}

type Client interface {
	Directory
	Connect(ctx context.Context) error
	Close() error
	JoinVoiceChannel(guildID, channelID string) (VoiceConnection, error)
	// SendChannelMessage posts content, split into several messages when it
	// exceeds the Discord length limit.
	SendChannelMessage(channelID, content string) error
	SendChannelMessageWithFile(msg FileMessage) error
	RegisterVoiceStateUpdateHandler(handler func(VoiceStateEvent))
	RegisterSlashCommandHandler(handler func(SlashCommandEvent))
	UpsertGuildSlashCommands(guildID string, defs []SlashCommandDefinition) error
	GetUserVoiceChannelID(ctx context.Context, guildID, userID string) (string, error)
	ListVoiceChannelParticipants(ctx context.Context, guildID, channelID string) ([]VoiceParticipant, error)
	GetBotUserID() (string, error)
	// ResolveTranscriptHeader returns a usable header even when it also
	// returns an error.
	ResolveTranscriptHeader(ctx context.Context, guildID, voiceChannelID string) (TranscriptHeader, error)
	// Run blocks until ctx is done.
	Run(ctx context.Context) error
}

type VoiceConnection interface {
	Disconnect() error
	// Receive delivers ticks and speaking updates to handler until the
	// connection is closed. It blocks.
	Receive(handler VoiceHandler)
}
