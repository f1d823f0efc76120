package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/kikitori/internal/discord"
)

// userLookupTimeout bounds REST lookups made from gateway event handlers.
const userLookupTimeout = 5 * time.Second

type Client struct {
	session      *discordgo.Session
	token        string
	silenceTicks int

	mu        sync.RWMutex
	botUserID string
}

func NewClient(token string, silenceTicks int) discordpkg.Client {
	return &Client{
		token:        token,
		silenceTicks: silenceTicks,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	s, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return err
	}
	c.session = s
	s.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates)
	s.State.TrackVoice = true
	if err := s.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = s.Close()
		return err
	}
	if _, err := c.GetBotUserID(); err != nil {
		return fmt.Errorf("resolve bot user: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *Client) JoinVoiceChannel(guildID, channelID string) (discordpkg.VoiceConnection, error) {
	vc, err := c.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, err
	}
	return newVoiceConnection(vc, c.silenceTicks), nil
}

func (c *Client) SendChannelMessage(channelID, content string) error {
	for _, part := range splitMessage(content, maxMessageLength) {
		if _, err := c.session.ChannelMessageSend(channelID, part); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) SendChannelMessageWithFile(msg discordpkg.FileMessage) error {
	_, err := c.session.ChannelMessageSendComplex(msg.ChannelID, &discordgo.MessageSend{
		Content: truncateMessage(msg.Content, maxMessageLength),
		Files: []*discordgo.File{
			{Name: msg.Filename, ContentType: "text/plain", Reader: bytes.NewReader(msg.FileBody)},
		},
	})
	return err
}

// voiceChannelMove extracts the channel change carried by a voice state
// update. Mute and deafen toggles within one channel report ok=false.
func voiceChannelMove(vs *discordgo.VoiceStateUpdate) (before, after string, ok bool) {
	if vs == nil || vs.VoiceState == nil || vs.GuildID == "" || vs.UserID == "" {
		return "", "", false
	}
	if vs.BeforeUpdate != nil {
		before = vs.BeforeUpdate.ChannelID
	}
	after = vs.ChannelID
	return before, after, before != after
}

func (c *Client) RegisterVoiceStateUpdateHandler(handler func(discordpkg.VoiceStateEvent)) {
	c.session.AddHandler(func(_ *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		before, after, ok := voiceChannelMove(vs)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), userLookupTimeout)
		defer cancel()
		handler(discordpkg.VoiceStateEvent{
			GuildID:         vs.GuildID,
			UserID:          vs.UserID,
			UserIsBot:       c.userIsBot(ctx, vs.GuildID, vs.UserID, vs.Member),
			BeforeChannelID: before,
			AfterChannelID:  after,
		})
	})
}

// interactionInvoker returns the user behind ic, whether it came from a guild
// or a direct message.
func interactionInvoker(ic *discordgo.InteractionCreate) string {
	if ic.Member != nil && ic.Member.User != nil {
		return ic.Member.User.ID
	}
	if ic.User != nil {
		return ic.User.ID
	}
	return ""
}

func (c *Client) RegisterSlashCommandHandler(handler func(discordpkg.SlashCommandEvent)) {
	c.session.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		if ic == nil || ic.Type != discordgo.InteractionApplicationCommand {
			return
		}
		command := ic.ApplicationCommandData().Name
		userID := interactionInvoker(ic)
		if command == "" || userID == "" {
			return
		}
		logger := slog.With("command", command, "guild_id", ic.GuildID, "channel_id", ic.ChannelID, "user_id", userID)
		logger.Info("slash command received")
		handler(discordpkg.SlashCommandEvent{
			GuildID:     ic.GuildID,
			ChannelID:   ic.ChannelID,
			CommandName: command,
			UserID:      userID,
			RespondEphemeral: func(content string) error {
				logger.Debug("replying to slash command")
				return s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
					Type: discordgo.InteractionResponseChannelMessageWithSource,
					Data: &discordgo.InteractionResponseData{
						Content: content,
						Flags:   discordgo.MessageFlagsEphemeral,
					},
				})
			},
		})
	})
}

// commandChange is one step needed to bring the guild's registered commands
// in line with the wanted definitions. An empty existingID means create.
type commandChange struct {
	existingID string
	def        discordpkg.SlashCommandDefinition
}

func planCommandSync(existing []*discordgo.ApplicationCommand, wanted []discordpkg.SlashCommandDefinition) []commandChange {
	byName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		if cmd != nil && cmd.Name != "" {
			byName[cmd.Name] = cmd
		}
	}
	var changes []commandChange
	for _, def := range wanted {
		if def.Name == "" {
			continue
		}
		cmd, ok := byName[def.Name]
		switch {
		case !ok:
			changes = append(changes, commandChange{def: def})
		case cmd.Description != def.Description:
			changes = append(changes, commandChange{existingID: cmd.ID, def: def})
		}
	}
	return changes
}

func (c *Client) UpsertGuildSlashCommands(guildID string, defs []discordpkg.SlashCommandDefinition) error {
	appID := c.applicationID()
	if appID == "" {
		return errors.New("discord application id is not available")
	}
	existing, err := c.session.ApplicationCommands(appID, guildID)
	if err != nil {
		return fmt.Errorf("list guild commands: %w", err)
	}
	for _, change := range planCommandSync(existing, defs) {
		payload := &discordgo.ApplicationCommand{Name: change.def.Name, Description: change.def.Description}
		if change.existingID == "" {
			_, err = c.session.ApplicationCommandCreate(appID, guildID, payload)
		} else {
			_, err = c.session.ApplicationCommandEdit(appID, guildID, change.existingID, payload)
		}
		if err != nil {
			return fmt.Errorf("sync command %s: %w", change.def.Name, err)
		}
		slog.Info("slash command synced", "command", change.def.Name, "guild_id", guildID, "created", change.existingID == "")
	}
	return nil
}

// GetUserVoiceChannelID returns the voice channel userID is connected to, or
// "" when they are not in voice.
func (c *Client) GetUserVoiceChannelID(ctx context.Context, guildID, userID string) (string, error) {
	if c.session == nil {
		return "", errors.New("discord session is not initialized")
	}
	if c.session.State != nil {
		if vs, err := c.session.State.VoiceState(guildID, userID); err == nil && vs != nil {
			return vs.ChannelID, nil
		}
	}
	// Right after startup the cache has not seen every voice state yet.
	vs, err := c.session.UserVoiceState(guildID, userID, discordgo.WithContext(ctx))
	switch {
	case isRESTNotFound(err):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("fetch voice state of %s: %w", userID, err)
	case vs == nil:
		return "", nil
	}
	return vs.ChannelID, nil
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// ListVoiceChannelParticipants reads the cached voice states of channelID.
func (c *Client) ListVoiceChannelParticipants(ctx context.Context, guildID, channelID string) ([]discordpkg.VoiceParticipant, error) {
	if c.session == nil || c.session.State == nil {
		return nil, errors.New("discord session is not initialized")
	}
	guild, err := c.session.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s not cached: %w", guildID, err)
	}
	seen := make(map[string]struct{}, len(guild.VoiceStates))
	var participants []discordpkg.VoiceParticipant
	for _, vs := range guild.VoiceStates {
		if vs == nil || vs.ChannelID != channelID || vs.UserID == "" {
			continue
		}
		if _, dup := seen[vs.UserID]; dup {
			continue
		}
		seen[vs.UserID] = struct{}{}
		participants = append(participants, discordpkg.VoiceParticipant{
			UserID: vs.UserID,
			IsBot:  c.userIsBot(ctx, guildID, vs.UserID, vs.Member),
		})
	}
	return participants, nil
}

func (c *Client) GetBotUserID() (string, error) {
	c.mu.RLock()
	id := c.botUserID
	c.mu.RUnlock()
	if id != "" {
		return id, nil
	}
	if c.session == nil {
		return "", errors.New("discord session is not initialized")
	}
	if c.session.State != nil && c.session.State.User != nil && c.session.State.User.ID != "" {
		id = c.session.State.User.ID
	} else {
		u, err := c.session.User("@me")
		if err != nil {
			return "", err
		}
		id = u.ID
	}
	c.mu.Lock()
	c.botUserID = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) isSelf(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botUserID != "" && c.botUserID == userID
}

// userIsBot reports whether userID is a bot account. The bot itself always
// counts as one. A member attached to the triggering event is trusted before
// any lookup; an unresolvable user is treated as human.
func (c *Client) userIsBot(ctx context.Context, guildID, userID string, member *discordgo.Member) bool {
	if c.isSelf(userID) {
		return true
	}
	if member != nil && member.User != nil {
		return member.User.Bot
	}
	u, _, err := c.lookupUser(ctx, guildID, userID)
	if err != nil {
		slog.Debug("bot flag lookup failed; assuming human", "error", err, "guild_id", guildID, "user_id", userID)
		return false
	}
	return u.Bot
}

// LookupDisplayName resolves the name shown for userID in guildID, preferring
// the guild nickname, then the global name, then the username.
func (c *Client) LookupDisplayName(ctx context.Context, guildID, userID string) (string, bool, error) {
	u, nick, err := c.lookupUser(ctx, guildID, userID)
	if err != nil {
		return "", false, err
	}
	name := nick
	if name == "" {
		name = preferredDiscordName(u.GlobalName, u.Username, userID)
	}
	return name, u.Bot || c.isSelf(userID), nil
}

// lookupUser finds userID as a guild member (state cache, then REST) and
// falls back to the global user endpoint. nick is empty outside the guild.
func (c *Client) lookupUser(ctx context.Context, guildID, userID string) (u *discordgo.User, nick string, err error) {
	if c.session == nil {
		return nil, "", errors.New("discord session is not initialized")
	}
	if member := c.guildMember(ctx, guildID, userID); member != nil && member.User != nil {
		return member.User, member.Nick, nil
	}
	u, err = c.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up discord user %s: %w", userID, err)
	}
	return u, "", nil
}

func (c *Client) guildMember(ctx context.Context, guildID, userID string) *discordgo.Member {
	if c.session.State != nil {
		if member, err := c.session.State.Member(guildID, userID); err == nil && member != nil {
			return member
		}
	}
	member, err := c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		slog.Debug("guild member lookup failed", "error", err, "guild_id", guildID, "user_id", userID)
		return nil
	}
	return member
}

func preferredDiscordName(globalName, username, fallback string) string {
	if globalName != "" {
		return globalName
	}
	if username != "" {
		return username
	}
	return fallback
}

func (c *Client) ResolveTranscriptHeader(ctx context.Context, guildID, voiceChannelID string) (discordpkg.TranscriptHeader, error) {
	header := discordpkg.TranscriptHeader{
		GuildID:          guildID,
		GuildName:        guildID,
		VoiceChannelID:   voiceChannelID,
		VoiceChannelName: voiceChannelID,
	}
	if c.session == nil {
		return header, errors.New("discord session is not initialized")
	}
	if name := c.guildName(ctx, guildID); name != "" {
		header.GuildName = name
	} else {
		slog.Warn("guild name unavailable; using id", "guild_id", guildID)
	}
	if name := c.channelName(ctx, voiceChannelID); name != "" {
		header.VoiceChannelName = name
	} else {
		slog.Warn("voice channel name unavailable; using id", "voice_channel_id", voiceChannelID)
	}
	return header, nil
}

func (c *Client) guildName(ctx context.Context, guildID string) string {
	if c.session.State != nil {
		if g, err := c.session.State.Guild(guildID); err == nil && g != nil && g.Name != "" {
			return g.Name
		}
	}
	g, err := c.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil || g == nil {
		return ""
	}
	return g.Name
}

func (c *Client) channelName(ctx context.Context, channelID string) string {
	if c.session.State != nil {
		if ch, err := c.session.State.Channel(channelID); err == nil && ch != nil && ch.Name != "" {
			return ch.Name
		}
	}
	ch, err := c.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil || ch == nil {
		return ""
	}
	return ch.Name
}

func (c *Client) applicationID() string {
	if c.session == nil || c.session.State == nil {
		return ""
	}
	if app := c.session.State.Application; app != nil && app.ID != "" {
		return app.ID
	}
	if u := c.session.State.User; u != nil {
		return u.ID
	}
	return ""
}

// Run blocks until ctx is done. Gateway events are delivered on discordgo's
// own goroutines.
func (c *Client) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
