// Recovery policy for the transport pump: auto-restart with exponential
// backoff after a transport.Receive failure, so a flaky NAT/relay hint
// degrades gracefully instead of busy-looping or taking the node down.
package node

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Recovery errors.
var (
	ErrRecoveryPolicyClosed   = errors.New("recovery: policy is closed")
	ErrRecoveryServiceUnknown = errors.New("recovery: unknown service")
	ErrRecoveryMaxRetries     = errors.New("recovery: max retries exceeded")
)

// RecoveryState tracks the recovery status of a service.
type RecoveryState int

const (
	// RecoveryIdle means no recovery action is needed.
	RecoveryIdle RecoveryState = iota
	// RecoveryPending means a restart is scheduled.
	RecoveryPending
	// RecoveryAttempting means a restart is in progress.
	RecoveryAttempting
	// RecoveryExhausted means max retries have been reached.
	RecoveryExhausted
)

// String returns a human-readable recovery state name.
func (s RecoveryState) String() string {
	switch s {
	case RecoveryIdle:
		return "idle"
	case RecoveryPending:
		return "pending"
	case RecoveryAttempting:
		return "attempting"
	case RecoveryExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// RecoveryConfig configures the auto-restart behavior for a service.
type RecoveryConfig struct {
	// MaxRetries is the maximum number of restart attempts. 0 = no restarts.
	MaxRetries int

	// InitialBackoff is the delay before the first restart attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier scales the backoff between retries (typically 2.0).
	BackoffMultiplier float64
}

// DefaultRecoveryConfig returns a sensible default recovery configuration.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ServiceRecoveryEntry tracks per-service recovery state.
type ServiceRecoveryEntry struct {
	Name           string
	Config         RecoveryConfig
	State          RecoveryState
	Retries        int
	LastAttempt    time.Time
	LastError      error
	CurrentBackoff time.Duration
}

// NextBackoff computes the next backoff duration using exponential backoff.
func (e *ServiceRecoveryEntry) NextBackoff() time.Duration {
	if e.CurrentBackoff == 0 {
		return e.Config.InitialBackoff
	}
	next := time.Duration(float64(e.CurrentBackoff) * e.Config.BackoffMultiplier)
	if next > e.Config.MaxBackoff {
		next = e.Config.MaxBackoff
	}
	return next
}

// RecoveryPolicy manages auto-restart policies for multiple services.
// It tracks failure counts, computes backoff delays, and determines
// whether a service should be restarted.
type RecoveryPolicy struct {
	mu      sync.Mutex
	entries map[string]*ServiceRecoveryEntry
	closed  bool
}

// NewRecoveryPolicy creates a new recovery policy manager.
func NewRecoveryPolicy() *RecoveryPolicy {
	return &RecoveryPolicy{
		entries: make(map[string]*ServiceRecoveryEntry),
	}
}

// Register adds a service to the recovery policy with the given config.
func (rp *RecoveryPolicy) Register(name string, config RecoveryConfig) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.closed {
		return ErrRecoveryPolicyClosed
	}

	rp.entries[name] = &ServiceRecoveryEntry{
		Name:   name,
		Config: config,
		State:  RecoveryIdle,
	}
	return nil
}

// RecordFailure records a service failure and updates recovery state.
// Returns the computed backoff duration, or an error if max retries exceeded.
func (rp *RecoveryPolicy) RecordFailure(name string, err error) (time.Duration, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	entry, ok := rp.entries[name]
	if !ok {
		return 0, ErrRecoveryServiceUnknown
	}

	entry.Retries++
	entry.LastError = err
	entry.LastAttempt = time.Now()

	if entry.Retries > entry.Config.MaxRetries {
		entry.State = RecoveryExhausted
		return 0, fmt.Errorf("%w: %s after %d retries", ErrRecoveryMaxRetries, name, entry.Config.MaxRetries)
	}

	backoff := entry.NextBackoff()
	entry.CurrentBackoff = backoff
	entry.State = RecoveryPending
	return backoff, nil
}

// RecordSuccess resets the recovery state for a service after a successful restart.
func (rp *RecoveryPolicy) RecordSuccess(name string) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	entry, ok := rp.entries[name]
	if !ok {
		return ErrRecoveryServiceUnknown
	}

	entry.State = RecoveryIdle
	entry.Retries = 0
	entry.CurrentBackoff = 0
	entry.LastError = nil
	return nil
}

// GetState returns the recovery state for a named service.
func (rp *RecoveryPolicy) GetState(name string) (RecoveryState, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	entry, ok := rp.entries[name]
	if !ok {
		return RecoveryIdle, ErrRecoveryServiceUnknown
	}
	return entry.State, nil
}

// GetRetries returns the current retry count for a named service.
func (rp *RecoveryPolicy) GetRetries(name string) (int, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	entry, ok := rp.entries[name]
	if !ok {
		return 0, ErrRecoveryServiceUnknown
	}
	return entry.Retries, nil
}

// ShouldRestart returns true if the service should be restarted.
func (rp *RecoveryPolicy) ShouldRestart(name string) bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	entry, ok := rp.entries[name]
	if !ok {
		return false
	}
	return entry.State == RecoveryPending
}

// Close prevents further recovery actions.
func (rp *RecoveryPolicy) Close() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.closed = true
}
