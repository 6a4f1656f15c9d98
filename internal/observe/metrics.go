// Package observe holds the OpenTelemetry instruments recorded by the
// synthesis client. Instruments are created from a metric.MeterProvider so
// tests can read them back through a ManualReader; DefaultMetrics uses the
// global provider, which is a no-op until the host process installs one.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/liuscraft/streamtts"

type Metrics struct {
	// SynthesisDuration is the wall time of one Synthesize call, labelled by status.
	SynthesisDuration metric.Float64Histogram

	// SynthesisRequests counts Synthesize calls by status.
	SynthesisRequests metric.Int64Counter

	// AudioBytes counts audio bytes returned to callers.
	AudioBytes metric.Int64Counter

	// InboundFrames counts decoded frames by event name.
	InboundFrames metric.Int64Counter

	// ActiveConnections tracks open vendor sockets.
	ActiveConnections metric.Int64UpDownCounter
}

// 语音合成延迟通常在 0.2s 到 10s 之间
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SynthesisDuration, err = m.Float64Histogram("streamtts.synthesis.duration",
		metric.WithDescription("Latency of one synthesize call from dial to close."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisRequests, err = m.Int64Counter("streamtts.synthesis.requests",
		metric.WithDescription("Synthesize calls by status."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("streamtts.audio.bytes",
		metric.WithDescription("Audio bytes returned to callers."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.InboundFrames, err = m.Int64Counter("streamtts.frames.inbound",
		metric.WithDescription("Decoded inbound frames by event."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("streamtts.connections.active",
		metric.WithDescription("Open vendor sockets."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide instance bound to otel.GetMeterProvider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSynthesis records the duration, status and audio size of one call.
func (m *Metrics) RecordSynthesis(ctx context.Context, status string, elapsed time.Duration, audioBytes int) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.SynthesisDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.SynthesisRequests.Add(ctx, 1, attrs)
	if audioBytes > 0 {
		m.AudioBytes.Add(ctx, int64(audioBytes))
	}
}

func (m *Metrics) RecordFrame(ctx context.Context, event string) {
	m.InboundFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}
