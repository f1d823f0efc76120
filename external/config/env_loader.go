package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/kikitori/internal/config"
)

type envConfig struct {
	Env                   string `env:"ENV" envDefault:"production"`
	DatabaseURL           string `env:"DATABASE_URL,required"`
	DiscordToken          string `env:"DISCORD_TOKEN,required"`
	DiscordGuildID        string `env:"DISCORD_GUILD_ID,required"`
	STTWebSocketURL       string `env:"STT_WEBSOCKET_URL,required"`
	STTReconnectAttempts  int    `env:"STT_RECONNECT_ATTEMPTS" envDefault:"1"`
	STTReconnectBackoffMs int    `env:"STT_RECONNECT_BACKOFF_MS" envDefault:"250"`
	STTReadTimeoutSec     int    `env:"STT_READ_TIMEOUT_SEC" envDefault:"30"`
	VoiceSilenceTicks     int    `env:"VOICE_SILENCE_TICKS" envDefault:"10"`
	ActivationPhrase      string `env:"ACTIVATION_PHRASE"`
	BotName               string `env:"BOT_NAME" envDefault:"kikitori"`
	ResponderBaseURL      string `env:"RESPONDER_BASE_URL"`
	ResponderAPIKey       string `env:"RESPONDER_API_KEY"`
	ResponderModel        string `env:"RESPONDER_MODEL"`
	ResponderSystemPrompt string `env:"RESPONDER_SYSTEM_PROMPT"`
	ResponderHistoryLimit int    `env:"RESPONDER_HISTORY_LIMIT" envDefault:"50"`
	PostTranscripts       bool   `env:"POST_TRANSCRIPTS" envDefault:"true"`
	TranscriptTimezone    string `env:"TRANSCRIPT_TIMEZONE" envDefault:"UTC"`
	TranscriptWebhookURL  string `env:"TRANSCRIPT_WEBHOOK_URL"`
	MetricsAddr           string `env:"METRICS_ADDR" envDefault:":9090"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                   raw.Env,
		DatabaseURL:           raw.DatabaseURL,
		DiscordToken:          raw.DiscordToken,
		DiscordGuildID:        raw.DiscordGuildID,
		STTWebSocketURL:       raw.STTWebSocketURL,
		STTReconnectAttempts:  raw.STTReconnectAttempts,
		STTReconnectBackoffMs: raw.STTReconnectBackoffMs,
		STTReadTimeoutSec:     raw.STTReadTimeoutSec,
		VoiceSilenceTicks:     raw.VoiceSilenceTicks,
		ActivationPhrase:      raw.ActivationPhrase,
		BotName:               raw.BotName,
		ResponderBaseURL:      raw.ResponderBaseURL,
		ResponderAPIKey:       raw.ResponderAPIKey,
		ResponderModel:        raw.ResponderModel,
		ResponderSystemPrompt: raw.ResponderSystemPrompt,
		ResponderHistoryLimit: raw.ResponderHistoryLimit,
		PostTranscripts:       raw.PostTranscripts,
		TranscriptTimezone:    raw.TranscriptTimezone,
		TranscriptWebhookURL:  raw.TranscriptWebhookURL,
		MetricsAddr:           raw.MetricsAddr,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
