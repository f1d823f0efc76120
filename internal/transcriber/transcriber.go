package transcriber

import (
	"context"
	"errors"
	"time"
)

var ErrConnClosed = errors.New("transcriber: connection closed")

// Conn is one streaming session with the speech-to-text backend.
type Conn interface {
	// Send writes one resampled frame. A failed Send leaves the Conn unusable
	// and the caller is expected to dial a new one.
	Send(ctx context.Context, frame []byte) error
	// Close ends the outbound stream so the backend can flush its final transcript.
	Close() error
	// Abort drops the connection without waiting for the backend.
	Abort()
}

// ResultReceiver is notified once when the backend stream ends with a
// non-empty transcript.
type ResultReceiver interface {
	OnFinal(text string)
}

type Dialer interface {
	Dial(ctx context.Context, receiver ResultReceiver) (Conn, error)
}

type Transcript struct {
	SSRC      uint32
	Identity  string
	UserID    string
	Human     bool
	Text      string
	ChannelID string
	SpokenAt  time.Time
}

// Sink accepts finished transcripts. Emit must not block the caller on
// downstream delivery.
type Sink interface {
	Emit(t Transcript)
}
