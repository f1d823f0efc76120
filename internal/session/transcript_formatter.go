package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/repository"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

func buildTranscriptText(header discord.TranscriptHeader, s *repository.Session, endedAt time.Time, timezone string, loc *time.Location, messages []repository.Message) []byte {
	header = headerWithFallbacks(header, s)
	startText := s.StartedAt.In(safeLocation(loc)).Format(transcriptTimeLayout)
	endText := endedAt.In(safeLocation(loc)).Format(transcriptTimeLayout)

	lines := []string{
		fmt.Sprintf("Server: %s", header.GuildName),
		fmt.Sprintf("Voice channel: %s", header.VoiceChannelName),
		fmt.Sprintf("Period: %s ~ %s (%s)", startText, endText, timezone),
		fmt.Sprintf("Speakers: %s", strings.Join(speakerNames(messages), ", ")),
		"",
	}
	for _, m := range messages {
		elapsed := m.SpokenAt.Sub(s.StartedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s", formatElapsedHMS(elapsed), m.Author, m.Content))
	}
	return []byte(strings.Join(lines, "\n"))
}

// headerWithFallbacks fills blank header fields from the session's IDs.
func headerWithFallbacks(h discord.TranscriptHeader, s *repository.Session) discord.TranscriptHeader {
	if h.GuildID == "" {
		h.GuildID = s.GuildID
	}
	if h.VoiceChannelID == "" {
		h.VoiceChannelID = s.VoiceChannelID
	}
	if strings.TrimSpace(h.GuildName) == "" {
		h.GuildName = h.GuildID
	}
	if strings.TrimSpace(h.VoiceChannelName) == "" {
		h.VoiceChannelName = h.VoiceChannelID
	}
	return h
}

// speakerNames returns the distinct authors of messages, sorted
// case-insensitively.
func speakerNames(messages []repository.Message) []string {
	seen := make(map[string]struct{}, len(messages))
	names := make([]string, 0, len(messages))
	for _, m := range messages {
		name := strings.TrimSpace(m.Author)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		in, jn := strings.ToLower(names[i]), strings.ToLower(names[j])
		if in != jn {
			return in < jn
		}
		return names[i] < names[j]
	})
	return names
}

func transcriptFilename(s *repository.Session, loc *time.Location) string {
	return fmt.Sprintf("transcript-%s.txt", s.StartedAt.In(safeLocation(loc)).Format("20060102-150405"))
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
