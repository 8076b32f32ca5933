package sink

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relaykit/hubsink/pkg/logger"
	"github.com/relaykit/hubsink/pkg/metrics"
)

const (
	faultLogInterval = time.Second
	faultLogBurst    = 10
)

// FaultReporter is the fire-and-forget channel delivery faults are pushed
// to. Reports are tagged with the id of the sink that raised them and must
// never block the delivery pipeline.
type FaultReporter interface {
	Report(sinkID string, err error)
}

// LogReporter writes faults to the component log. Reports are rate limited
// so a hub outage cannot flood the log with one line per lost batch.
type LogReporter struct {
	logger  *zap.SugaredLogger
	limiter *rate.Limiter
}

// ReporterOption configures a LogReporter.
type ReporterOption func(*LogReporter)

// WithLimiter replaces the default fault rate limit.
func WithLimiter(limiter *rate.Limiter) ReporterOption {
	return func(r *LogReporter) {
		r.limiter = limiter
	}
}

// WithReporterLogger replaces the component logger, for testing.
func WithReporterLogger(log *zap.SugaredLogger) ReporterOption {
	return func(r *LogReporter) {
		r.logger = log
	}
}

// NewLogReporter returns a log reporter. Without options it logs through the
// fault reporter component logger, limited to a burst of ten and one report
// per second after that.
func NewLogReporter(opts ...ReporterOption) *LogReporter {
	r := &LogReporter{
		logger:  logger.For(logger.ComponentFaultReporter),
		limiter: rate.NewLimiter(rate.Every(faultLogInterval), faultLogBurst),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report implements FaultReporter.
func (r *LogReporter) Report(sinkID string, err error) {
	if !r.limiter.Allow() {
		metrics.IncFaultSuppressed()
		return
	}
	metrics.IncFaultReported()
	r.logger.Errorf("Sink %s fault: %s", sinkID, err)
}
