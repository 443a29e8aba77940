package syncer

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	passSpanName  = "sync.reconcile"
	passEventName = "sync.pass.metrics"
)

// passMetrics observes one reconciliation pass as an otel span plus a
// structured log entry.
type passMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time
}

func newPassMetrics(ctx context.Context, logger *log.Logger) (*passMetrics, context.Context) {
	tracer := otel.Tracer("tasksync-api/syncer")
	ctx, span := tracer.Start(ctx, passSpanName)
	return &passMetrics{logger: logger, span: span, start: time.Now()}, ctx
}

func (m *passMetrics) End(result *Result, err error) {
	if m == nil {
		return
	}
	elapsed := time.Since(m.start)

	m.span.SetAttributes(
		attribute.Bool("tasksync.pass.success", result.Success),
		attribute.Int("tasksync.pass.synced", result.Synced),
		attribute.Int("tasksync.pass.failed", result.Failed),
		attribute.Float64("tasksync.pass.total_ms", durationToMillis(elapsed)),
	)
	if err != nil {
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"success":  result.Success,
		"synced":   result.Synced,
		"failed":   result.Failed,
		"total_ms": durationToMillis(elapsed),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info(passEventName)
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
