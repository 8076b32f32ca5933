package lifecycle

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Machine wraps a looplab FSM with registered enter-state callbacks. It
// guards the lifecycle of one publisher or sink instance; every transition
// is checked against the declared event table, so an illegal transition
// surfaces as an error instead of a corrupted state.
type Machine struct {
	cfg Config

	// mu protects the callbacks map
	mu sync.RWMutex

	// fsm is the finite state machine that manages instance state
	fsm *fsm.FSM

	// callbacks for state transitions
	callbacks map[string]fsm.Callback

	logger *zap.SugaredLogger
}

// Config describes one machine: its identity, initial state and the legal
// transitions.
type Config struct {
	ID          string
	Initial     string
	Transitions []fsm.EventDesc
}

// NewMachine creates a machine from the given config.
func NewMachine(cfg Config, logger *zap.SugaredLogger) *Machine {
	machine := &Machine{
		cfg:       cfg,
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
	}

	machine.fsm = fsm.NewFSM(
		cfg.Initial,
		fsm.Events(cfg.Transitions),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				machine.mu.RLock()
				cb, ok := machine.callbacks["enter_"+e.Dst]
				machine.mu.RUnlock()
				if ok {
					cb(ctx, e)
				}
			},
		},
	)

	return machine
}

// AddCallback registers a callback for a given event name, e.g.
// "enter_stopped".
func (m *Machine) AddCallback(eventName string, callback fsm.Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[eventName] = callback
}

// SendEvent sends an event to the FSM and returns whether the event was
// processed.
func (m *Machine) SendEvent(ctx context.Context, eventName string, args ...interface{}) error {
	return m.fsm.Event(ctx, eventName, args...)
}

// Current returns the current state.
func (m *Machine) Current() string {
	return m.fsm.Current()
}

// Is returns true when the machine is in the given state.
func (m *Machine) Is(state string) bool {
	return m.fsm.Is(state)
}

// Can returns true when the event is legal from the current state.
func (m *Machine) Can(eventName string) bool {
	return m.fsm.Can(eventName)
}

// GetID returns the machine's identity.
func (m *Machine) GetID() string {
	return m.cfg.ID
}
