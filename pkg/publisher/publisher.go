package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relaykit/hubsink/internal/lifecycle"
	"github.com/relaykit/hubsink/pkg/batch"
	"github.com/relaykit/hubsink/pkg/entry"
	"github.com/relaykit/hubsink/pkg/logger"
	"github.com/relaykit/hubsink/pkg/metrics"
	"github.com/relaykit/hubsink/pkg/retry"
	"github.com/relaykit/hubsink/pkg/transport"
)

// Settings control the backlog and flush behaviour of one publisher.
type Settings struct {
	// BufferingCount flushes once this many entries are buffered and fixes
	// the batch size. Zero selects auto-sized batching bounded by
	// MaxBatchBytes; one delivers every entry on its own.
	BufferingCount int

	// BufferingInterval is the time-based flush trigger.
	BufferingInterval time.Duration

	// MaxBufferSize caps the backlog. Entries arriving beyond it are
	// dropped and counted, never silently merged.
	MaxBufferSize int

	// MaxBatchBytes is the byte ceiling for one auto-sized batch body.
	MaxBatchBytes int

	// OnCompletedTimeout bounds the final flush performed on Close.
	OnCompletedTimeout time.Duration
}

// DefaultSettings returns the publisher defaults.
func DefaultSettings() Settings {
	return Settings{
		BufferingCount:     0,
		BufferingInterval:  30 * time.Second,
		MaxBufferSize:      30000,
		MaxBatchBytes:      batch.DefaultCeilingBytes,
		OnCompletedTimeout: 10 * time.Second,
	}
}

func (s Settings) validate() error {
	if s.BufferingCount < 0 {
		return fmt.Errorf("buffering count must not be negative, got %d", s.BufferingCount)
	}
	if s.BufferingInterval <= 0 {
		return fmt.Errorf("buffering interval must be positive, got %s", s.BufferingInterval)
	}
	if s.MaxBufferSize < 1 {
		return fmt.Errorf("max buffer size must be positive, got %d", s.MaxBufferSize)
	}
	if s.MaxBatchBytes < 1 {
		return fmt.Errorf("max batch bytes must be positive, got %d", s.MaxBatchBytes)
	}
	if s.OnCompletedTimeout <= 0 {
		return fmt.Errorf("on-completed timeout must be positive, got %s", s.OnCompletedTimeout)
	}
	return nil
}

// Stats is a snapshot of the publisher counters.
type Stats struct {
	Received      uint64
	Dropped       uint64
	Published     uint64
	FailedBatches uint64
	BacklogLength int
}

var (
	// ErrNotStarted is returned by Flush before Start was called.
	ErrNotStarted = errors.New("publisher not started")

	// ErrStopped is returned by Flush after the publisher was closed.
	ErrStopped = errors.New("publisher stopped")
)

// FaultHandler receives delivery faults. It must not block.
type FaultHandler func(err error)

type flushRequest struct {
	reply chan error
}

// Publisher owns the backlog and delivers it to the hub in batches. All
// flush work, whether triggered by count, interval, a forced flush or
// shutdown, runs on one loop goroutine, so at most one delivery is in
// flight at any time. Entries of a failed or interrupted flush are lost;
// they are never re-enqueued.
type Publisher struct {
	settings Settings
	sender   transport.Sender
	policy   retry.Policy
	onFault  FaultHandler
	logger   *zap.SugaredLogger
	machine  *lifecycle.Machine

	// mu protects the backlog and the start state
	mu          sync.Mutex
	backlog     []entry.Entry
	loopStarted bool

	// flushSignal coalesces count triggers; flushReqs carries forced
	// flushes to the loop
	flushSignal chan struct{}
	flushReqs   chan flushRequest

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	received      atomic.Uint64
	dropped       atomic.Uint64
	published     atomic.Uint64
	failedBatches atomic.Uint64
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRetryPolicy replaces the delivery retry schedule.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Publisher) {
		p.policy = policy
	}
}

// WithFaultHandler sets the handler delivery faults are forwarded to.
func WithFaultHandler(handler FaultHandler) Option {
	return func(p *Publisher) {
		p.onFault = handler
	}
}

// WithLogger replaces the component logger, for testing.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Publisher) {
		p.logger = log
	}
}

// New creates a publisher delivering through sender. It fails fast on
// invalid settings.
func New(settings Settings, sender transport.Sender, opts ...Option) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("sender must not be nil")
	}
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("invalid publisher settings: %w", err)
	}

	p := &Publisher{
		settings:    settings,
		sender:      sender,
		policy:      retry.DefaultPolicy(),
		logger:      logger.For(logger.ComponentPublisher),
		flushSignal: make(chan struct{}, 1),
		flushReqs:   make(chan flushRequest),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.onFault == nil {
		p.onFault = func(err error) {
			p.logger.Errorf("Delivery fault: %s", err)
		}
	}
	p.machine = lifecycle.NewPublisherMachine("publisher", p.logger)

	return p, nil
}

// Start spawns the flush loop. Cancelling ctx shuts the loop down the same
// way Close does.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.ctx != nil {
		p.mu.Unlock()
		return errors.New("publisher already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	cancel := p.cancel
	p.mu.Unlock()

	if err := p.machine.SendEvent(context.Background(), lifecycle.PublisherEventStart); err != nil {
		cancel()
		return fmt.Errorf("cannot start publisher in state %s: %w", p.machine.Current(), err)
	}

	p.mu.Lock()
	p.loopStarted = true
	p.mu.Unlock()

	go p.run()
	return nil
}

// TryPost appends e to the backlog. It returns false when the publisher is
// stopped or the backlog is full; a full backlog drops the arriving entry
// and counts the drop.
func (p *Publisher) TryPost(e entry.Entry) bool {
	if p.machine.Is(lifecycle.PublisherStateStopped) {
		return false
	}

	p.mu.Lock()
	if len(p.backlog) >= p.settings.MaxBufferSize {
		p.mu.Unlock()
		p.dropped.Add(1)
		metrics.AddDropped(1)
		return false
	}
	p.backlog = append(p.backlog, e)
	length := len(p.backlog)
	p.mu.Unlock()

	p.received.Add(1)
	metrics.AddReceived(1)
	metrics.SetBacklogLength(length)

	if p.settings.BufferingCount > 0 && length >= p.settings.BufferingCount {
		select {
		case p.flushSignal <- struct{}{}:
		default:
		}
	}

	return true
}

// Flush forces an out-of-band flush and waits for it to finish or for ctx
// to expire. On expiry the flush keeps running on the loop; the entries
// drained for it are not restored.
func (p *Publisher) Flush(ctx context.Context) error {
	if p.machine.Is(lifecycle.PublisherStateIdle) {
		return ErrNotStarted
	}
	if p.machine.Is(lifecycle.PublisherStateStopped) {
		return ErrStopped
	}

	p.mu.Lock()
	runCtx := p.ctx
	p.mu.Unlock()
	if runCtx == nil {
		return ErrNotStarted
	}

	req := flushRequest{reply: make(chan error, 1)}
	select {
	case p.flushReqs <- req:
	case <-runCtx.Done():
		return ErrStopped
	case <-ctx.Done():
		return fmt.Errorf("flush request abandoned: %w", ctx.Err())
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("flush abandoned: %w", ctx.Err())
	}
}

// Close stops the flush loop, makes one final best-effort delivery attempt
// bounded by OnCompletedTimeout and rejects all further posts. It is
// idempotent.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		_ = p.machine.SendEvent(context.Background(), lifecycle.PublisherEventStop)

		p.mu.Lock()
		started := p.loopStarted
		cancel := p.cancel
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if started {
			<-p.done
		}
		p.logger.Debugf("Publisher closed")
	})
}

// State returns the current lifecycle state.
func (p *Publisher) State() string {
	return p.machine.Current()
}

// Stats returns a snapshot of the publisher counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	backlogLength := len(p.backlog)
	p.mu.Unlock()

	return Stats{
		Received:      p.received.Load(),
		Dropped:       p.dropped.Load(),
		Published:     p.published.Load(),
		FailedBatches: p.failedBatches.Load(),
		BacklogLength: backlogLength,
	}
}

// run is the flush loop. It owns every delivery; duplicate count triggers
// collapse into the pending signal.
func (p *Publisher) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.settings.BufferingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			_ = p.machine.SendEvent(context.Background(), lifecycle.PublisherEventStop)
			p.finalFlush()
			return
		case <-ticker.C:
			p.flushCycle("interval")
		case <-p.flushSignal:
			p.flushCycle("count")
		case req := <-p.flushReqs:
			req.reply <- p.flushCycle("forced")
		}
	}
}

// flushCycle drains the backlog and delivers it as one or more batches.
func (p *Publisher) flushCycle(trigger string) error {
	entries := p.drain()
	if len(entries) == 0 {
		return nil
	}

	_ = p.machine.SendEvent(context.Background(), lifecycle.PublisherEventFlush)
	start := time.Now()
	err := p.deliver(p.ctx, entries, false)
	metrics.ObserveFlushDuration(time.Since(start).Seconds())
	_ = p.machine.SendEvent(context.Background(), lifecycle.PublisherEventFlushDone)

	if err != nil {
		p.logger.Debugf("Flush on %s trigger finished with error: %s", trigger, err)
	} else {
		p.logger.Debugf("Flush on %s trigger handled %d entries", trigger, len(entries))
	}

	return err
}

// finalFlush makes the one best-effort delivery attempt of whatever is left
// when the loop shuts down.
func (p *Publisher) finalFlush() {
	entries := p.drain()
	if len(entries) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.settings.OnCompletedTimeout)
	defer cancel()

	p.logger.Infof("Final flush of %d entries", len(entries))
	if err := p.deliver(ctx, entries, true); err != nil {
		p.logger.Warnf("Final flush incomplete: %s", err)
	}
}

func (p *Publisher) drain() []entry.Entry {
	p.mu.Lock()
	entries := p.backlog
	p.backlog = nil
	p.mu.Unlock()

	metrics.SetBacklogLength(0)
	return entries
}

// deliver serializes, partitions and sends entries. A batch that fails
// after the retry budget is reported and lost. A cancellation during
// shutdown is swallowed: the interrupted batch reports zero published
// entries and no fault.
func (p *Publisher) deliver(ctx context.Context, entries []entry.Entry, final bool) error {
	items := p.encode(entries)
	if len(items) == 0 {
		return nil
	}

	var batches []batch.Batch
	if p.settings.BufferingCount > 0 {
		batches = batch.PartitionCount(items, p.settings.BufferingCount)
	} else {
		batches = batch.PartitionAuto(items, p.settings.MaxBatchBytes)
	}

	var firstErr error
	for i, b := range batches {
		if ctx.Err() != nil {
			if final {
				remaining := 0
				for _, rest := range batches[i:] {
					remaining += rest.Len()
				}
				p.onFault(fmt.Errorf("final flush ran out of time, %d entries lost: %w", remaining, ctx.Err()))
				if firstErr == nil {
					firstErr = ctx.Err()
				}
			} else {
				p.logger.Debugf("Shutdown interrupted flush, %d batches not delivered", len(batches)-i)
			}
			break
		}

		attempt := 0
		err := retry.Do(ctx, p.policy, p.logger, func(c context.Context) error {
			attempt++
			if attempt > 1 {
				metrics.IncDeliveryRetry()
			}
			return p.sender.Send(c, b.Body, transport.ContentTypeJSON)
		})
		if err == nil {
			p.published.Add(uint64(b.Len()))
			metrics.AddPublished(b.Len())
			metrics.IncBatchPublished()
			continue
		}

		if !final && ctx.Err() != nil {
			// Cancellation raced the send during shutdown; nothing from
			// this batch counts as published
			p.logger.Debugf("Shutdown interrupted delivery of a batch of %d entries", b.Len())
			break
		}

		p.failedBatches.Add(1)
		metrics.IncDeliveryFailure()
		p.onFault(fmt.Errorf("dropping batch of %d entries after delivery failure: %w", b.Len(), err))
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// encode serializes the drained entries. An entry that fails to serialize
// is dropped and reported instead of blocking the rest of the flush.
func (p *Publisher) encode(entries []entry.Entry) []batch.Item {
	items := make([]batch.Item, 0, len(entries))
	for _, e := range entries {
		encoded, err := entry.Encode(e)
		if err != nil {
			p.onFault(fmt.Errorf("dropping unserializable entry: %w", err))
			continue
		}
		items = append(items, batch.Item{Encoded: encoded})
	}
	return items
}
