package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
)

// Metrics holds the stage and row instruments. A nil *Metrics records nothing.
type Metrics struct {
	stages   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rows     *prometheus.CounterVec
}

// NewMetrics registers the ingestion instruments with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skyparts",
			Subsystem: "ingestion",
			Name:      "stage_runs_total",
			Help:      "Ingestion stage invocations by outcome.",
		}, []string{"stage", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "skyparts",
			Subsystem: "ingestion",
			Name:      "stage_duration_seconds",
			Help:      "Ingestion stage latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 3, 10),
		}, []string{"stage"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skyparts",
			Subsystem: "ingestion",
			Name:      "rows_total",
			Help:      "Rows classified by the match and import stages.",
		}, []string{"stage", "status"}),
	}
	for _, c := range []prometheus.Collector{m.stages, m.duration, m.rows} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeStage(stage string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stages.WithLabelValues(stage, outcome).Inc()
	m.duration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) countRows(stage string, status repository.RowStatus, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rows.WithLabelValues(stage, string(status)).Add(float64(n))
}

// stage opens a span and returns a finisher that records the outcome on both
// the span and the metrics.
func (s *IngestionService) stage(ctx context.Context, name string, sessionID string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ingestion."+name,
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.observeStage(name, start, err)
	}
}
