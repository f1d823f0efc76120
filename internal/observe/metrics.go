// Package observe holds the OpenTelemetry instruments used by the listener
// pipeline and the exporter setup that publishes them for Prometheus.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/foxseedlab/kikitori"

// Drop reasons recorded on FramesDropped.
const (
	DropReasonPipelineClosed = "pipeline_closed"
	DropReasonDecodeDisabled = "decode_unavailable"
	DropReasonReconnect      = "reconnect_failed"
	DropReasonSessionClosed  = "session_closed"
)

type Metrics struct {
	ActivePipelines     metric.Int64UpDownCounter
	FramesForwarded     metric.Int64Counter
	FramesDropped       metric.Int64Counter
	Reconnects          metric.Int64Counter
	ConnectFailures     metric.Int64Counter
	TranscriptsEmitted  metric.Int64Counter
	BackendConnDuration metric.Float64Histogram
}

var connectBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActivePipelines, err = m.Int64UpDownCounter("kikitori.pipelines.active",
		metric.WithDescription("Number of live per-speaker pipelines."),
	); err != nil {
		return nil, err
	}
	if met.FramesForwarded, err = m.Int64Counter("kikitori.frames.forwarded",
		metric.WithDescription("Audio frames handed to a speaker pipeline."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("kikitori.frames.dropped",
		metric.WithDescription("Audio frames dropped, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("kikitori.stt.reconnects",
		metric.WithDescription("Transcription reconnect attempts, by status."),
	); err != nil {
		return nil, err
	}
	if met.ConnectFailures, err = m.Int64Counter("kikitori.stt.connect_failures",
		metric.WithDescription("Transcription connections that could not be established."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptsEmitted, err = m.Int64Counter("kikitori.transcripts.emitted",
		metric.WithDescription("Non-empty transcripts handed to the sink."),
	); err != nil {
		return nil, err
	}
	if met.BackendConnDuration, err = m.Float64Histogram("kikitori.stt.connect.duration",
		metric.WithDescription("Latency of establishing a transcription connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Discard returns instruments backed by a no-op provider.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
