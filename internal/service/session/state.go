package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a streaming session.
type State int

const (
	// StateAwaitingConfig - initial state, waiting for a config message.
	StateAwaitingConfig State = iota
	// StateStreaming - accepting audio fragments.
	StateStreaming
	// StateFinalizing - flushing remaining audio before completion.
	StateFinalizing
	// StateClosed - terminal, connection is being closed.
	StateClosed
	// StateErrored - absorbing state entered when the transport breaks.
	StateErrored
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingConfig:
		return "AWAITING_CONFIG"
	case StateStreaming:
		return "STREAMING"
	case StateFinalizing:
		return "FINALIZING"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for CLOSED and ERROR.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateErrored
}

// Errors for invalid state transitions.
var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrAlreadyConfigured = errors.New("session already configured")
	ErrNotStreaming      = errors.New("session is not streaming")
	ErrAlreadyFinalizing = errors.New("session already finalizing")
)

// Machine manages the state machine for one session. Thread-safe.
//
// State transitions:
//
//	AWAITING_CONFIG → STREAMING → FINALIZING → CLOSED
//	       │              │
//	       └── Ingest() ──┘  (permissive: audio before config streams
//	                          with the default language)
//
// ERROR is reachable from any non-terminal state via Fail().
type Machine struct {
	mu    sync.RWMutex
	state State
}

// NewMachine creates a session state machine in AWAITING_CONFIG.
func NewMachine() *Machine {
	return &Machine{state: StateAwaitingConfig}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Configure transitions AWAITING_CONFIG to STREAMING.
func (m *Machine) Configure() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateAwaitingConfig:
		m.state = StateStreaming
		return nil
	case StateStreaming:
		return ErrAlreadyConfigured
	case StateFinalizing:
		return ErrAlreadyFinalizing
	default:
		return ErrSessionClosed
	}
}

// Ingest validates that an audio fragment may be accepted. An ingest before
// configuration implicitly starts streaming with the default language.
func (m *Machine) Ingest() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateAwaitingConfig:
		m.state = StateStreaming
		return nil
	case StateStreaming:
		return nil
	case StateFinalizing:
		return ErrAlreadyFinalizing
	default:
		return ErrSessionClosed
	}
}

// Finalize transitions to FINALIZING. Allowed before any audio arrived.
func (m *Machine) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateAwaitingConfig, StateStreaming:
		m.state = StateFinalizing
		return nil
	case StateFinalizing:
		return ErrAlreadyFinalizing
	default:
		return ErrSessionClosed
	}
}

// Fail moves a non-terminal session to ERROR. Returns false if the session
// was already terminal.
func (m *Machine) Fail() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.IsTerminal() {
		return false
	}
	m.state = StateErrored
	return true
}

// Close transitions to CLOSED from any state. Idempotent; an ERROR state
// also ends up CLOSED once the handler has attempted its notification.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateClosed
}
