package discord

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/kikitori/internal/discord"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestSession(t *testing.T, rt roundTripFunc) *discordgo.Session {
	t.Helper()
	s, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if rt != nil {
		s.Client = &http.Client{Transport: rt}
	}
	return s
}

func TestGetUserVoiceChannelID_UsesStateCacheFirst(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected REST call: %s %s", req.Method, req.URL.String())
		return nil, nil
	})
	if err := s.State.GuildAdd(&discordgo.Guild{
		ID: "guild-1",
		VoiceStates: []*discordgo.VoiceState{
			{GuildID: "guild-1", ChannelID: "vc-1", UserID: "user-1"},
		},
	}); err != nil {
		t.Fatalf("failed to add guild to state: %v", err)
	}

	c := &Client{session: s}
	channelID, err := c.GetUserVoiceChannelID(context.Background(), "guild-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if channelID != "vc-1" {
		t.Fatalf("expected vc-1, got %q", channelID)
	}
}

func TestGetUserVoiceChannelID_FallsBackToRESTWhenStateIsCold(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		if !strings.HasSuffix(req.URL.Path, "/guilds/guild-1/voice-states/user-1") {
			t.Fatalf("unexpected request path: %s", req.URL.Path)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Body: io.NopCloser(strings.NewReader(
				`{"guild_id":"guild-1","channel_id":"vc-rest","user_id":"user-1","session_id":"x","deaf":false,"mute":false,"self_deaf":false,"self_mute":false,"self_video":false,"suppress":false}`,
			)),
			Header: make(http.Header),
		}, nil
	})

	c := &Client{session: s}
	channelID, err := c.GetUserVoiceChannelID(context.Background(), "guild-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if channelID != "vc-rest" {
		t.Fatalf("expected vc-rest, got %q", channelID)
	}
}

func TestGetUserVoiceChannelID_ReturnsEmptyOnRESTNotFound(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Status:     "404 Not Found",
			Body:       io.NopCloser(strings.NewReader(`{"message":"Unknown Voice State","code":10065}`)),
			Header:     make(http.Header),
		}, nil
	})

	c := &Client{session: s}
	channelID, err := c.GetUserVoiceChannelID(context.Background(), "guild-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if channelID != "" {
		t.Fatalf("expected empty channel id, got %q", channelID)
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestLookupDisplayName_PrefersCachedNickname(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected REST call: %s %s", req.Method, req.URL.String())
		return nil, nil
	})
	if err := s.State.GuildAdd(&discordgo.Guild{ID: "guild-1"}); err != nil {
		t.Fatalf("failed to add guild to state: %v", err)
	}
	if err := s.State.MemberAdd(&discordgo.Member{
		GuildID: "guild-1",
		Nick:    "Ali",
		User:    &discordgo.User{ID: "user-1", Username: "alice", GlobalName: "Alice"},
	}); err != nil {
		t.Fatalf("failed to add member to state: %v", err)
	}

	c := &Client{session: s}
	name, isBot, err := c.LookupDisplayName(context.Background(), "guild-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Ali" || isBot {
		t.Fatalf("expected Ali (human), got %q bot=%v", name, isBot)
	}
}

func TestLookupDisplayName_FallsBackToMemberREST(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		if !strings.HasSuffix(req.URL.Path, "/guilds/guild-1/members/user-2") {
			t.Fatalf("unexpected request path: %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"nick":"","user":{"id":"user-2","username":"bob","global_name":"Bobby","bot":false}}`), nil
	})

	c := &Client{session: s}
	name, _, err := c.LookupDisplayName(context.Background(), "guild-1", "user-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Bobby" {
		t.Fatalf("expected global name, got %q", name)
	}
}

func TestLookupDisplayName_FallsBackToUserREST(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "/members/") {
			return jsonResponse(http.StatusNotFound, `{"message":"Unknown Member","code":10007}`), nil
		}
		if !strings.HasSuffix(req.URL.Path, "/users/user-3") {
			t.Fatalf("unexpected request path: %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"id":"user-3","username":"helper","bot":true}`), nil
	})

	c := &Client{session: s}
	name, isBot, err := c.LookupDisplayName(context.Background(), "guild-1", "user-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "helper" || !isBot {
		t.Fatalf("expected helper (bot), got %q bot=%v", name, isBot)
	}
}

func TestLookupDisplayName_ReturnsErrorWhenUnresolvable(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"message":"Unknown User","code":10013}`), nil
	})

	c := &Client{session: s}
	if _, _, err := c.LookupDisplayName(context.Background(), "guild-1", "user-4"); err == nil {
		t.Fatal("expected error when the user cannot be found")
	}
}

func TestUserIsBot_TrustsEventMemberWithoutREST(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected REST call: %s %s", req.Method, req.URL.String())
		return nil, nil
	})
	c := &Client{session: s}
	member := &discordgo.Member{User: &discordgo.User{ID: "user-9", Bot: true}}
	if !c.userIsBot(context.Background(), "guild-1", "user-9", member) {
		t.Fatal("expected the member carried by the event to decide")
	}
}

func TestUserIsBot_SharesDisplayNameLookupPath(t *testing.T) {
	var paths []string
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		paths = append(paths, req.URL.Path)
		if strings.Contains(req.URL.Path, "/members/") {
			return jsonResponse(http.StatusNotFound, `{"message":"Unknown Member","code":10007}`), nil
		}
		return jsonResponse(http.StatusOK, `{"id":"user-5","username":"music","bot":true}`), nil
	})
	c := &Client{session: s}
	if !c.userIsBot(context.Background(), "guild-1", "user-5", nil) {
		t.Fatal("expected user endpoint bot flag to be used")
	}
	if len(paths) != 2 || !strings.HasSuffix(paths[0], "/guilds/guild-1/members/user-5") || !strings.HasSuffix(paths[1], "/users/user-5") {
		t.Fatalf("expected member then user lookups, got %v", paths)
	}
}

func TestUserIsBot_SelfAndUnresolvable(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"message":"Unknown User","code":10013}`), nil
	})
	c := &Client{session: s, botUserID: "bot-self"}
	if !c.userIsBot(context.Background(), "guild-1", "bot-self", nil) {
		t.Fatal("expected the bot itself to count as a bot")
	}
	if c.userIsBot(context.Background(), "guild-1", "ghost", nil) {
		t.Fatal("expected an unresolvable user to be treated as human")
	}
}

func TestVoiceChannelMove(t *testing.T) {
	tests := []struct {
		name       string
		update     *discordgo.VoiceStateUpdate
		wantBefore string
		wantAfter  string
		wantOK     bool
	}{
		{name: "nil", update: nil},
		{
			name:      "join",
			update:    &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "g", UserID: "u", ChannelID: "vc-1"}},
			wantAfter: "vc-1", wantOK: true,
		},
		{
			name: "leave",
			update: &discordgo.VoiceStateUpdate{
				VoiceState:   &discordgo.VoiceState{GuildID: "g", UserID: "u"},
				BeforeUpdate: &discordgo.VoiceState{ChannelID: "vc-1"},
			},
			wantBefore: "vc-1", wantOK: true,
		},
		{
			name: "mute in place",
			update: &discordgo.VoiceStateUpdate{
				VoiceState:   &discordgo.VoiceState{GuildID: "g", UserID: "u", ChannelID: "vc-1", SelfMute: true},
				BeforeUpdate: &discordgo.VoiceState{ChannelID: "vc-1"},
			},
			wantBefore: "vc-1", wantAfter: "vc-1",
		},
		{
			name:   "missing user",
			update: &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "g", ChannelID: "vc-1"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, after, ok := voiceChannelMove(tt.update)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (before != tt.wantBefore || after != tt.wantAfter) {
				t.Fatalf("got %q -> %q, want %q -> %q", before, after, tt.wantBefore, tt.wantAfter)
			}
		})
	}
}

func TestPlanCommandSync(t *testing.T) {
	existing := []*discordgo.ApplicationCommand{
		{ID: "1", Name: "listen", Description: "Start listening"},
		{ID: "2", Name: "listen-stop", Description: "old text"},
		nil,
	}
	wanted := []discordpkg.SlashCommandDefinition{
		{Name: "listen", Description: "Start listening"},
		{Name: "listen-stop", Description: "Stop listening"},
		{Name: "status", Description: "Show status"},
		{Name: ""},
	}

	changes := planCommandSync(existing, wanted)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}
	if changes[0].existingID != "2" || changes[0].def.Description != "Stop listening" {
		t.Fatalf("expected edit of listen-stop, got %+v", changes[0])
	}
	if changes[1].existingID != "" || changes[1].def.Name != "status" {
		t.Fatalf("expected create of status, got %+v", changes[1])
	}
}

func TestResolveTranscriptHeader_UsesCachedNames(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected REST call: %s %s", req.Method, req.URL.String())
		return nil, nil
	})
	if err := s.State.GuildAdd(&discordgo.Guild{
		ID:       "guild-1",
		Name:     "Fox Seed",
		Channels: []*discordgo.Channel{{ID: "vc-1", GuildID: "guild-1", Name: "General", Type: discordgo.ChannelTypeGuildVoice}},
	}); err != nil {
		t.Fatalf("failed to add guild to state: %v", err)
	}

	c := &Client{session: s}
	header, err := c.ResolveTranscriptHeader(context.Background(), "guild-1", "vc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if header.GuildName != "Fox Seed" || header.VoiceChannelName != "General" {
		t.Fatalf("unexpected header: %+v", header)
	}
}

func TestResolveTranscriptHeader_FallsBackToIDs(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusForbidden, `{"message":"Missing Access","code":50001}`), nil
	})

	c := &Client{session: s}
	header, err := c.ResolveTranscriptHeader(context.Background(), "guild-1", "vc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if header.GuildName != "guild-1" || header.VoiceChannelName != "vc-1" {
		t.Fatalf("expected id fallbacks, got %+v", header)
	}
}
