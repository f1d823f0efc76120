package session

import "fmt"

const (
	commandListen     = "listen"
	commandListenStop = "listen-stop"

	slashCommandStartDescription = "Start transcribing the voice channel you are in."
	slashCommandStopDescription  = "Stop transcribing the voice channel you are in."

	messageEphemeralWrongGuild        = ":warning: **This command is not available on this server.**"
	messageEphemeralUnknownCommand    = ":warning: **Unknown command.**"
	messageEphemeralVoiceLookupFailed = ":warning: **Could not check which voice channel you are in.**"
	messageEphemeralJoinVCFirst       = ":warning: **Join a voice channel first.**"
	messageEphemeralAlreadyRunning    = ":warning: **This voice channel is already being transcribed.**"
	messageEphemeralStartFailed       = ":warning: **Failed to start listening.**"
	messageEphemeralNotRunning        = ":warning: **This voice channel is not being transcribed.**"

	messageStartChannelTitle = ":microphone2: **Listening started.**"
	messageStartChannelHint  = "-# Use /listen-stop to stop."

	messageStopChannelTitle = ":pause_button: **Listening stopped.**"
	messageStopRestart      = "-# Use /listen to start again."

	messageAttachmentTitle = ":page_facing_up: **Transcript**"

	messageStartEphemeralFormat = ":microphone2: Listening to <#%s>. Transcripts will appear in this channel.\n-# Use /listen-stop to stop."
	messageStopEphemeralFormat  = ":pause_button: Stopped listening to <#%s>.\n-# Use /listen to start again."
)

const (
	stopReasonManualSlash      = "manual_slash"
	stopReasonParticipantsLeft = "participants_left"
	stopReasonBotRemoved       = "bot_removed"
	stopReasonServerClosed     = "server_closed"
)

func startEphemeral(voiceChannelID string) string {
	return fmt.Sprintf(messageStartEphemeralFormat, voiceChannelID)
}

func stopEphemeral(voiceChannelID string) string {
	return fmt.Sprintf(messageStopEphemeralFormat, voiceChannelID)
}

func stopReasonDetail(reason string) string {
	switch reason {
	case stopReasonManualSlash:
		return "A participant ran the stop command."
	case stopReasonParticipantsLeft:
		return "Everyone left the voice channel."
	case stopReasonBotRemoved:
		return "The bot was removed from the voice channel."
	case stopReasonServerClosed:
		return "The bot is shutting down."
	default:
		return "An unknown error occurred."
	}
}

func startChannelMessage() string {
	return messageStartChannelTitle + "\n" + messageStartChannelHint
}

func stopChannelMessage(reason string) string {
	return messageStopChannelTitle + "\n" + stopReasonDetail(reason) + "\n" + messageStopRestart
}

func formatTranscriptLine(speaker, text string) string {
	return fmt.Sprintf("**%s**: %s", speaker, text)
}
