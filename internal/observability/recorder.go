package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/models"
)

// EventWriter receives resolution analytics events. Implementations must be
// safe for concurrent use.
type EventWriter interface {
	WriteResolutionEvent(ctx context.Context, event *models.ResolutionEvent) error
}

// ResolutionRecorder turns completed resolutions into metrics, slow
// resolution warnings and analytics events.
type ResolutionRecorder struct {
	warningThreshold  time.Duration
	criticalThreshold time.Duration
	logger            *zap.Logger
	writer            EventWriter

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func NewResolutionRecorder(warning, critical time.Duration, logger *zap.Logger, w EventWriter) *ResolutionRecorder {
	return &ResolutionRecorder{
		warningThreshold:  warning,
		criticalThreshold: critical,
		logger:            logger,
		writer:            w,
	}
}

func (rr *ResolutionRecorder) Record(ctx context.Context, res *models.Resolution, duration time.Duration) {
	if res == nil || res.Status == models.StatusIdle {
		return
	}

	origin := originLabel(res)
	ResolutionsTotal.WithLabelValues(res.Status.String(), string(res.ErrorKind)).Inc()
	ResolutionDuration.WithLabelValues(origin, res.Status.String()).Observe(duration.Seconds())

	// Cache hits are the common case and carry nothing worth publishing.
	if res.CacheHit {
		return
	}

	traceID := TraceIDFromContext(ctx)
	severity := rr.classifySeverity(duration)
	if severity != "normal" {
		SlowResolutionCounter.WithLabelValues(severity, origin).Inc()
		rr.logger.Warn("slow resolution detected",
			zap.String("trace_id", traceID),
			zap.String("query_hash", HashQuery(res.Query)),
			zap.String("origin", origin),
			zap.String("status", res.Status.String()),
			zap.Float64("duration_ms", float64(duration.Milliseconds())),
			zap.String("severity", severity),
		)
	}

	if rr.writer == nil {
		return
	}

	event := &models.ResolutionEvent{
		EventType:   "search_resolution",
		QueryHash:   HashQuery(res.Query),
		Status:      res.Status.String(),
		ErrorKind:   string(res.ErrorKind),
		Origin:      string(res.Origin),
		CacheHit:    res.CacheHit,
		ResultCount: len(res.Results),
		DurationMs:  float64(duration.Milliseconds()),
		Severity:    severity,
		TraceID:     traceID,
		Timestamp:   time.Now().UTC(),
	}

	// Publish asynchronously so the caller never waits on the broker.
	if !rr.track() {
		rr.logger.Debug("recorder closed, dropping resolution event",
			zap.String("trace_id", traceID),
		)
		return
	}
	go func() {
		defer rr.pending.Done()
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rr.writer.WriteResolutionEvent(writeCtx, event); err != nil {
			EventsPublished.WithLabelValues("error").Inc()
			rr.logger.Error("failed to write resolution event",
				zap.String("trace_id", traceID),
				zap.Error(err),
			)
			return
		}
		EventsPublished.WithLabelValues("success").Inc()
	}()
}

func (rr *ResolutionRecorder) track() bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if rr.closed {
		return false
	}
	rr.pending.Add(1)
	return true
}

// Wait blocks until every in-flight event write has finished.
func (rr *ResolutionRecorder) Wait() {
	rr.pending.Wait()
}

// Close stops publishing new events and waits for in-flight writes. Metrics
// are still recorded after Close. Call it before closing the EventWriter.
func (rr *ResolutionRecorder) Close() {
	rr.mu.Lock()
	rr.closed = true
	rr.mu.Unlock()
	rr.pending.Wait()
}

func (rr *ResolutionRecorder) classifySeverity(d time.Duration) string {
	if d > rr.criticalThreshold {
		return "critical"
	}
	if d > rr.warningThreshold {
		return "warning"
	}
	return "normal"
}

func originLabel(res *models.Resolution) string {
	if res.Origin == "" {
		return "none"
	}
	return string(res.Origin)
}

// HashQuery returns a stable, non-reversible identifier for a query so raw
// search text stays out of logs and analytics.
func HashQuery(q string) string {
	return fmt.Sprintf("%016x", hashUint64(q))
}

func hashUint64(s string) uint64 {
	h := uint64(0)
	for _, c := range s {
		h = h*31 + uint64(c)
	}
	return h
}
