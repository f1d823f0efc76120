package listener

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/observe"
)

const identityLookupTimeout = 5 * time.Second

// Dispatcher routes voice ticks of one session to per-speaker pipelines.
// It implements discord.VoiceHandler.
type Dispatcher struct {
	registry *Registry
	pipeline PipelineConfig
	metrics  *observe.Metrics
	closed   atomic.Bool
}

var _ discord.VoiceHandler = (*Dispatcher)(nil)

func NewDispatcher(registry *Registry, cfg PipelineConfig) *Dispatcher {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Discard()
	}
	return &Dispatcher{
		registry: registry,
		pipeline: cfg,
		metrics:  cfg.Metrics,
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

func (d *Dispatcher) HandleSpeakingUpdate(update discord.SpeakingUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), identityLookupTimeout)
	defer cancel()
	d.registry.ResolveIdentity(ctx, update.SSRC, update.UserID)
}

func (d *Dispatcher) HandleTick(tick discord.Tick) {
	ctx := context.Background()
	for ssrc, frame := range tick.Speaking {
		if frame.Decoded == nil {
			slog.Debug("decoded audio unavailable; ignoring frame", "ssrc", ssrc)
			d.metrics.RecordDrop(ctx, observe.DropReasonDecodeDisabled)
			continue
		}
		d.forward(ctx, ssrc, frame.Decoded)
	}
	for _, ssrc := range tick.Silent {
		if p := d.registry.ClearPipeline(ssrc); p != nil {
			slog.Debug("speaker went silent; finalizing pipeline", "ssrc", ssrc)
			p.Finish()
		}
	}
}

// forward hands frame to ssrc's pipeline, starting one when there is none and
// replacing it once when the current one has exited.
func (d *Dispatcher) forward(ctx context.Context, ssrc uint32, frame []int16) {
	speaker := d.registry.GetOrCreate(ssrc)
	speaker.mu.Lock()
	defer speaker.mu.Unlock()

	// Checked under the speaker lock so Close either sees the pipeline
	// started here or this call sees the closed flag.
	if d.closed.Load() {
		d.metrics.RecordDrop(ctx, observe.DropReasonSessionClosed)
		return
	}
	if speaker.pipeline == nil {
		speaker.pipeline = StartPipeline(d.pipeline, speaker)
		slog.Info("speaker pipeline started", "ssrc", ssrc, "identity", speaker.identity)
	}
	if err := speaker.pipeline.Push(frame); err == nil {
		d.metrics.FramesForwarded.Add(ctx, 1)
		return
	}

	slog.Warn("speaker pipeline has exited; starting a replacement", "ssrc", ssrc)
	speaker.pipeline = StartPipeline(d.pipeline, speaker)
	if err := speaker.pipeline.Push(frame); err != nil {
		slog.Error("failed to forward frame to replacement pipeline", "error", err, "ssrc", ssrc)
		d.metrics.RecordDrop(ctx, observe.DropReasonPipelineClosed)
		return
	}
	d.metrics.FramesForwarded.Add(ctx, 1)
}

// Close finalizes every live pipeline and waits for them to exit or for ctx
// to expire. Frames handed to the dispatcher afterwards are dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closed.Store(true)
	var pending []*Pipeline
	d.registry.Range(func(s *Speaker) bool {
		if p := d.registry.ClearPipeline(s.SSRC); p != nil {
			p.Finish()
			pending = append(pending, p)
		}
		return true
	})
	for _, p := range pending {
		select {
		case <-p.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
