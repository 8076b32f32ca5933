package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaykit/hubsink/internal/lifecycle"
	"github.com/relaykit/hubsink/pkg/entry"
	"github.com/relaykit/hubsink/pkg/logger"
	"github.com/relaykit/hubsink/pkg/publisher"
	"github.com/relaykit/hubsink/pkg/retry"
	"github.com/relaykit/hubsink/pkg/transport"
)

// Config describes one sink: where it delivers to and how it buffers.
// Endpoint, Hub, Publisher and Token identify the hub connection and are
// required unless a pre-built sender is injected.
type Config struct {
	// Endpoint is the base URL of the hub service.
	Endpoint string

	// Hub names the hub entries are delivered to.
	Hub string

	// Publisher is the publisher identity registered with the hub.
	Publisher string

	// Token is the shared access credential presented on every request.
	Token string

	// RequestTimeout bounds one HTTP send. Zero takes the transport default.
	RequestTimeout time.Duration

	// Buffering controls the backlog and flush triggers. Zero fields take
	// the publisher defaults.
	Buffering publisher.Settings

	// Retry controls the per-batch delivery schedule. Zero fields take the
	// retry defaults.
	Retry retry.Policy
}

func (c *Config) applyDefaults() {
	def := publisher.DefaultSettings()
	if c.Buffering.BufferingInterval == 0 {
		c.Buffering.BufferingInterval = def.BufferingInterval
	}
	if c.Buffering.MaxBufferSize == 0 {
		c.Buffering.MaxBufferSize = def.MaxBufferSize
	}
	if c.Buffering.MaxBatchBytes == 0 {
		c.Buffering.MaxBatchBytes = def.MaxBatchBytes
	}
	if c.Buffering.OnCompletedTimeout == 0 {
		c.Buffering.OnCompletedTimeout = def.OnCompletedTimeout
	}

	defPolicy := retry.DefaultPolicy()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defPolicy.MaxAttempts
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = defPolicy.InitialDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = defPolicy.MaxDelay
	}
}

// Sink is the observer-style facade over one buffered publisher. Producers
// hand entries to OnNext and are never exposed to delivery errors; faults
// surface on the fault reporter, tagged with the sink id. A sink starts
// active, moves to flushing when the producer completes and ends disposed.
type Sink struct {
	id       string
	cfg      Config
	pub      *publisher.Publisher
	sender   transport.Sender
	reporter FaultReporter
	machine  *lifecycle.Machine
	logger   *zap.SugaredLogger

	disposeOnce sync.Once
}

// Option configures a Sink.
type Option func(*Sink)

// WithSender injects a pre-built sender instead of the HTTP transport the
// sink would construct from its config.
func WithSender(sender transport.Sender) Option {
	return func(s *Sink) {
		s.sender = sender
	}
}

// WithFaultReporter replaces the default log reporter.
func WithFaultReporter(reporter FaultReporter) Option {
	return func(s *Sink) {
		s.reporter = reporter
	}
}

// WithLogger replaces the component logger, for testing.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Sink) {
		s.logger = log
	}
}

// New creates a sink and starts its delivery loop. Construction fails fast
// when the hub connection settings are incomplete; it never defers that to
// the first delivery.
func New(cfg Config, opts ...Option) (*Sink, error) {
	cfg.applyDefaults()

	s := &Sink{
		id:     uuid.NewString(),
		cfg:    cfg,
		logger: logger.For(logger.ComponentSink),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.reporter == nil {
		s.reporter = NewLogReporter()
	}

	if s.sender == nil {
		sender, err := transport.NewHTTPSender(transport.HTTPConfig{
			Endpoint:       cfg.Endpoint,
			Hub:            cfg.Hub,
			Publisher:      cfg.Publisher,
			Token:          cfg.Token,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("sink construction failed: %w", err)
		}
		s.sender = sender
	}

	pub, err := publisher.New(cfg.Buffering, s.sender,
		publisher.WithRetryPolicy(cfg.Retry),
		publisher.WithLogger(s.logger),
		publisher.WithFaultHandler(func(err error) {
			s.reporter.Report(s.id, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("sink construction failed: %w", err)
	}
	s.pub = pub
	s.machine = lifecycle.NewSinkMachine(s.id, s.logger)

	if err := s.pub.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("sink construction failed: %w", err)
	}

	s.logger.Infof("Sink %s active, hub %q, publisher %q", s.id, cfg.Hub, cfg.Publisher)
	return s, nil
}

// ID returns the unique identity faults from this sink are tagged with.
func (s *Sink) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Sink) State() string {
	return s.machine.Current()
}

// Stats returns the counters of the underlying publisher.
func (s *Sink) Stats() publisher.Stats {
	return s.pub.Stats()
}

// OnNext offers one entry to the sink. It reports whether the entry was
// accepted into the backlog; a full backlog or a sink past its active state
// rejects the entry without raising.
func (s *Sink) OnNext(e entry.Entry) bool {
	if !s.machine.Is(lifecycle.SinkStateActive) {
		return false
	}
	e.ApplyDefaults()
	return s.pub.TryPost(e)
}

// OnError ends the sink on a producer-side fault. The error goes to the
// fault reporter tagged with the sink id, never back to the producer; the
// sink then runs the same bounded completion flush as OnCompleted and
// disposes. Calls after the sink left its active state are ignored.
func (s *Sink) OnError(err error) {
	if err == nil {
		return
	}
	if machineErr := s.machine.SendEvent(context.Background(), lifecycle.SinkEventComplete); machineErr != nil {
		return
	}

	s.reporter.Report(s.id, fmt.Errorf("producer fault: %w", err))
	s.completeAndDispose()
}

// OnCompleted marks the producer as finished. The sink makes one completion
// flush bounded by the on-completed timeout, reports a fault when that
// flush does not finish in time, and disposes either way. Calls after the
// first are ignored.
func (s *Sink) OnCompleted() {
	if err := s.machine.SendEvent(context.Background(), lifecycle.SinkEventComplete); err != nil {
		return
	}

	s.completeAndDispose()
}

// completeAndDispose drains the backlog under the on-completed timeout and
// disposes the sink. The caller must have won the completion transition.
func (s *Sink) completeAndDispose() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Buffering.OnCompletedTimeout)
	defer cancel()

	if err := s.pub.Flush(ctx); err != nil {
		s.reporter.Report(s.id, fmt.Errorf("completion flush failed: %w", err))
	}

	s.dispose()
}

// Flush forces a delivery of the current backlog and waits for it, bounded
// by ctx. Only an active sink can be flushed.
func (s *Sink) Flush(ctx context.Context) error {
	if !s.machine.Is(lifecycle.SinkStateActive) {
		return fmt.Errorf("cannot flush sink in state %s", s.machine.Current())
	}
	return s.pub.Flush(ctx)
}

// Close disposes the sink: the publisher makes its final delivery attempt,
// the transport is released and all further posts are rejected. Close is
// idempotent and always returns nil.
func (s *Sink) Close() error {
	s.dispose()
	return nil
}

func (s *Sink) dispose() {
	s.disposeOnce.Do(func() {
		_ = s.machine.SendEvent(context.Background(), lifecycle.SinkEventDispose)
		s.pub.Close()
		if err := s.sender.Close(); err != nil {
			s.logger.Warnf("Closing sender for sink %s: %s", s.id, err)
		}
		s.logger.Infof("Sink %s disposed", s.id)
	})
}
