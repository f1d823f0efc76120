package listener

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/observe"
	"github.com/foxseedlab/kikitori/internal/retry"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateReconnecting
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type PipelineConfig struct {
	Dialer    transcriber.Dialer
	Sink      transcriber.Sink
	ChannelID string
	Reconnect retry.Policy
	Metrics   *observe.Metrics
	// OnTransition, if set, is called from the pipeline goroutine on every
	// state change.
	OnTransition func(from, to State)
}

// Pipeline streams one speaker's audio to the transcription backend. It is
// driven by its own goroutine; Push and Finish never block.
type Pipeline struct {
	cfg     PipelineConfig
	speaker *Speaker
	queue   *frameQueue
	state   atomic.Int32
	done    chan struct{}

	conn    transcriber.Conn
	pending []byte
}

func StartPipeline(cfg PipelineConfig, speaker *Speaker) *Pipeline {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Discard()
	}
	p := &Pipeline{
		cfg:     cfg,
		speaker: speaker,
		queue:   newFrameQueue(),
		done:    make(chan struct{}),
	}
	p.state.Store(int32(StateConnecting))
	go p.run()
	return p
}

// Push enqueues a raw frame. It fails with ErrPipelineClosed once the
// pipeline has been finished or has exited.
func (p *Pipeline) Push(frame []int16) error {
	return p.queue.push(frame)
}

// Finish closes the input queue. Queued frames are still sent before the
// backend stream is finalized.
func (p *Pipeline) Finish() {
	p.queue.close()
}

func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) run() {
	ctx := context.Background()
	p.cfg.Metrics.ActivePipelines.Add(ctx, 1)
	defer func() {
		p.cfg.Metrics.ActivePipelines.Add(ctx, -1)
		close(p.done)
	}()

	state := StateConnecting
	for state != StateClosed {
		var next State
		switch state {
		case StateConnecting:
			next = p.connect(ctx)
		case StateStreaming:
			next = p.stream(ctx)
		case StateReconnecting:
			next = p.reconnect(ctx)
		case StateFinalizing:
			next = p.finalize()
		}
		p.transition(state, next)
		state = next
	}
}

func (p *Pipeline) transition(from, to State) {
	p.state.Store(int32(to))
	slog.Debug("speaker pipeline transition", "ssrc", p.speaker.SSRC, "from", from.String(), "to", to.String())
	if p.cfg.OnTransition != nil {
		p.cfg.OnTransition(from, to)
	}
}

func (p *Pipeline) connect(ctx context.Context) State {
	conn, err := p.dial(ctx)
	if err != nil {
		p.cfg.Metrics.ConnectFailures.Add(ctx, 1)
		dropped := p.queue.abandon()
		slog.Error("failed to connect speaker pipeline", "error", err, "ssrc", p.speaker.SSRC, "dropped_frames", dropped)
		return StateClosed
	}
	p.conn = conn
	return StateStreaming
}

func (p *Pipeline) stream(ctx context.Context) State {
	for {
		frame, ok := p.queue.pop()
		if !ok {
			return StateFinalizing
		}
		data := audio.Resample(frame)
		if len(data) == 0 {
			continue
		}
		if err := p.conn.Send(ctx, data); err != nil {
			slog.Warn("speaker pipeline send failed; reconnecting", "error", err, "ssrc", p.speaker.SSRC)
			p.pending = data
			return StateReconnecting
		}
	}
}

// reconnect replaces the failed connection and resends the frame that
// could not be delivered.
func (p *Pipeline) reconnect(ctx context.Context) State {
	p.conn.Abort()
	p.conn = nil
	err := retry.Do(ctx, p.cfg.Reconnect, func(ctx context.Context, attempt int) error {
		conn, err := p.dial(ctx)
		if err != nil {
			p.cfg.Metrics.RecordReconnect(ctx, "dial_failed")
			return err
		}
		if err := conn.Send(ctx, p.pending); err != nil {
			conn.Abort()
			p.cfg.Metrics.RecordReconnect(ctx, "resend_failed")
			return err
		}
		p.conn = conn
		return nil
	})
	if err != nil {
		dropped := p.queue.abandon()
		p.cfg.Metrics.RecordDrop(ctx, observe.DropReasonReconnect)
		slog.Error("speaker pipeline reconnect failed; exiting", "error", err, "ssrc", p.speaker.SSRC, "dropped_frames", dropped)
		p.pending = nil
		return StateClosed
	}
	p.cfg.Metrics.RecordReconnect(ctx, "ok")
	slog.Info("speaker pipeline reconnected", "ssrc", p.speaker.SSRC)
	p.pending = nil
	return StateStreaming
}

func (p *Pipeline) finalize() State {
	if err := p.conn.Close(); err != nil {
		slog.Debug("transcription stream close returned error", "error", err, "ssrc", p.speaker.SSRC)
	}
	p.conn = nil
	return StateClosed
}

func (p *Pipeline) dial(ctx context.Context) (transcriber.Conn, error) {
	started := time.Now()
	conn, err := p.cfg.Dialer.Dial(ctx, &resultReceiver{pipeline: p})
	if err == nil {
		p.cfg.Metrics.BackendConnDuration.Record(ctx, time.Since(started).Seconds())
	}
	return conn, err
}

type resultReceiver struct {
	pipeline *Pipeline
}

// OnFinal reads the speaker identity at emit time so that a name resolved
// after the audio started is still used.
func (r *resultReceiver) OnFinal(text string) {
	p := r.pipeline
	identity := p.speaker.Identity()
	p.cfg.Metrics.TranscriptsEmitted.Add(context.Background(), 1)
	slog.Info("transcript ready", "ssrc", p.speaker.SSRC, "identity", identity, "channel_id", p.cfg.ChannelID, "chars", len(text))
	p.cfg.Sink.Emit(transcriber.Transcript{
		SSRC:      p.speaker.SSRC,
		Identity:  identity,
		UserID:    p.speaker.UserID(),
		Human:     identity != NonHumanIdentity,
		Text:      text,
		ChannelID: p.cfg.ChannelID,
		SpokenAt:  time.Now(),
	})
}
