package lifecycle

import (
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Publisher states
const (
	PublisherStateIdle     = "idle"
	PublisherStateRunning  = "running"
	PublisherStateFlushing = "flushing"
	PublisherStateStopped  = "stopped"
)

// Publisher events
const (
	PublisherEventStart     = "start"
	PublisherEventFlush     = "flush"
	PublisherEventFlushDone = "flush_done"
	PublisherEventStop      = "stop"
)

// Sink states
const (
	SinkStateActive   = "active"
	SinkStateFlushing = "flushing"
	SinkStateDisposed = "disposed"
)

// Sink events
const (
	SinkEventComplete = "complete"
	SinkEventDispose  = "dispose"
)

// NewPublisherMachine returns the machine guarding one buffered publisher.
// Stopping is legal from every state so that disposal always wins; flushing
// is only reachable from running, which keeps one flush in flight.
func NewPublisherMachine(id string, logger *zap.SugaredLogger) *Machine {
	return NewMachine(Config{
		ID:      id,
		Initial: PublisherStateIdle,
		Transitions: []fsm.EventDesc{
			{Name: PublisherEventStart, Src: []string{PublisherStateIdle}, Dst: PublisherStateRunning},
			{Name: PublisherEventFlush, Src: []string{PublisherStateRunning}, Dst: PublisherStateFlushing},
			{Name: PublisherEventFlushDone, Src: []string{PublisherStateFlushing}, Dst: PublisherStateRunning},
			{Name: PublisherEventStop, Src: []string{PublisherStateIdle, PublisherStateRunning, PublisherStateFlushing}, Dst: PublisherStateStopped},
		},
	}, logger)
}

// NewSinkMachine returns the machine guarding one sink instance. The flushing
// transition is one-way; once the final flush has started the sink can only
// end up disposed.
func NewSinkMachine(id string, logger *zap.SugaredLogger) *Machine {
	return NewMachine(Config{
		ID:      id,
		Initial: SinkStateActive,
		Transitions: []fsm.EventDesc{
			{Name: SinkEventComplete, Src: []string{SinkStateActive}, Dst: SinkStateFlushing},
			{Name: SinkEventDispose, Src: []string{SinkStateActive, SinkStateFlushing}, Dst: SinkStateDisposed},
		},
	}, logger)
}
