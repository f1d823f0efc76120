package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Env                   string
	DatabaseURL           string
	DiscordToken          string
	DiscordGuildID        string
	STTWebSocketURL       string
	STTReconnectAttempts  int
	STTReconnectBackoffMs int
	STTReadTimeoutSec     int
	VoiceSilenceTicks     int
	ActivationPhrase      string
	BotName               string
	ResponderBaseURL      string
	ResponderAPIKey       string
	ResponderModel        string
	ResponderSystemPrompt string
	ResponderHistoryLimit int
	PostTranscripts       bool
	TranscriptTimezone    string
	TranscriptWebhookURL  string
	MetricsAddr           string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	u, err := url.Parse(c.STTWebSocketURL)
	if err != nil {
		return fmt.Errorf("STT_WEBSOCKET_URL is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("STT_WEBSOCKET_URL must use ws or wss, got %q", u.Scheme)
	}
	if c.STTReconnectAttempts < 1 {
		return fmt.Errorf("STT_RECONNECT_ATTEMPTS must be at least 1, got %d", c.STTReconnectAttempts)
	}
	if c.STTReconnectBackoffMs < 0 {
		return fmt.Errorf("STT_RECONNECT_BACKOFF_MS must not be negative, got %d", c.STTReconnectBackoffMs)
	}
	if c.STTReadTimeoutSec < 0 {
		return fmt.Errorf("STT_READ_TIMEOUT_SEC must not be negative, got %d", c.STTReadTimeoutSec)
	}
	if c.VoiceSilenceTicks <= 0 {
		return fmt.Errorf("VOICE_SILENCE_TICKS must be positive, got %d", c.VoiceSilenceTicks)
	}
	if c.ResponderHistoryLimit <= 0 {
		return fmt.Errorf("RESPONDER_HISTORY_LIMIT must be positive, got %d", c.ResponderHistoryLimit)
	}
	if c.TranscriptTimezone == "" {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is required")
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "DISCORD_GUILD_ID", value: c.DiscordGuildID},
		{name: "STT_WEBSOCKET_URL", value: c.STTWebSocketURL},
		{name: "BOT_NAME", value: c.BotName},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ResponderEnabled reports whether activation phrases should produce replies.
func (c *Config) ResponderEnabled() bool {
	return c.ActivationPhrase != "" && c.ResponderModel != ""
}

func (c *Config) ReconnectBackoff() time.Duration {
	return time.Duration(c.STTReconnectBackoffMs) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.STTReadTimeoutSec) * time.Second
}
