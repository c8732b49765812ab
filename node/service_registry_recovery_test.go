package node

import (
	"errors"
	"testing"
	"time"
)

func TestNewRecoveryPolicy(t *testing.T) {
	rp := NewRecoveryPolicy()
	if rp == nil {
		t.Fatal("NewRecoveryPolicy returned nil")
	}
}

func TestRecoveryPolicyRegister(t *testing.T) {
	rp := NewRecoveryPolicy()
	err := rp.Register("db", DefaultRecoveryConfig())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	state, err := rp.GetState("db")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state != RecoveryIdle {
		t.Errorf("state = %v, want idle", state)
	}
}

func TestRecoveryPolicyRegisterClosed(t *testing.T) {
	rp := NewRecoveryPolicy()
	rp.Close()

	err := rp.Register("db", DefaultRecoveryConfig())
	if err != ErrRecoveryPolicyClosed {
		t.Errorf("expected ErrRecoveryPolicyClosed, got %v", err)
	}
}

func TestRecoveryPolicyGetStateUnknown(t *testing.T) {
	rp := NewRecoveryPolicy()
	_, err := rp.GetState("unknown")
	if err != ErrRecoveryServiceUnknown {
		t.Errorf("expected ErrRecoveryServiceUnknown, got %v", err)
	}
}

func TestRecoveryPolicyRecordFailure(t *testing.T) {
	rp := NewRecoveryPolicy()
	rp.Register("db", RecoveryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	})

	backoff, err := rp.RecordFailure("db", errors.New("connection lost"))
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if backoff != 100*time.Millisecond {
		t.Errorf("backoff = %v, want 100ms", backoff)
	}

	state, _ := rp.GetState("db")
	if state != RecoveryPending {
		t.Errorf("state = %v, want pending", state)
	}

	retries, _ := rp.GetRetries("db")
	if retries != 1 {
		t.Errorf("retries = %d, want 1", retries)
	}
}

func TestRecoveryPolicyRecordFailureUnknown(t *testing.T) {
	rp := NewRecoveryPolicy()
	_, err := rp.RecordFailure("unknown", errors.New("fail"))
	if err != ErrRecoveryServiceUnknown {
		t.Errorf("expected ErrRecoveryServiceUnknown, got %v", err)
	}
}

func TestRecoveryPolicyExponentialBackoff(t *testing.T) {
	rp := NewRecoveryPolicy()
	rp.Register("svc", RecoveryConfig{
		MaxRetries:        5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	})

	expectedBackoffs := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}

	for i, expected := range expectedBackoffs {
		backoff, err := rp.RecordFailure("svc", errors.New("fail"))
		if err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
		if backoff != expected {
			t.Errorf("retry %d: backoff = %v, want %v", i, backoff, expected)
		}
	}
}

func TestRecoveryPolicyMaxBackoffCap(t *testing.T) {
	rp := NewRecoveryPolicy()
	rp.Register("svc", RecoveryConfig{
		MaxRetries:        10,
		InitialBackoff:    time.Second,
		MaxBackoff:        3 * time.Second,
		BackoffMultiplier: 4.0,
	})

	// First: 1s, second: 4s capped to 3s.
	rp.RecordFailure("svc", errors.New("fail"))
	backoff, _ := rp.RecordFailure("svc", errors.New("fail"))
	if backoff > 3*time.Second {
		t.Errorf("backoff %v exceeds max 3s", backoff)
	}
}

func TestRecoveryPolicyMaxRetriesExceeded(t *testing.T) {
	rp := NewRecoveryPolicy()
	rp.Register("svc", RecoveryConfig{
		MaxRetries:        2,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	})

	rp.RecordFailure("svc", errors.New("fail1"))
	rp.RecordFailure("svc", errors.New("fail2"))

	// Third failure exceeds max retries.
	_, err := rp.RecordFailure("svc", errors.New("fail3"))
	if !errors.Is(err, ErrRecoveryMaxRetries) {
		t.Errorf("expected ErrRecoveryMaxRetries, got %v", err)
	}

	state, _ := rp.GetState("svc")
	if state != RecoveryExhausted {
		t.Errorf("state = %v, want exhausted", state)
	}
}

func TestRecoveryPolicyRecordSuccess(t *testing.T) {
	rp := NewRecoveryPolicy()
	rp.Register("svc", DefaultRecoveryConfig())

	rp.RecordFailure("svc", errors.New("fail"))
	rp.RecordSuccess("svc")

	state, _ := rp.GetState("svc")
	if state != RecoveryIdle {
		t.Errorf("state = %v after success, want idle", state)
	}

	retries, _ := rp.GetRetries("svc")
	if retries != 0 {
		t.Errorf("retries = %d after success, want 0", retries)
	}
}

func TestRecoveryPolicyRecordSuccessUnknown(t *testing.T) {
	rp := NewRecoveryPolicy()
	err := rp.RecordSuccess("unknown")
	if err != ErrRecoveryServiceUnknown {
		t.Errorf("expected ErrRecoveryServiceUnknown, got %v", err)
	}
}

func TestRecoveryPolicyShouldRestart(t *testing.T) {
	rp := NewRecoveryPolicy()
	rp.Register("svc", DefaultRecoveryConfig())

	// Initially should not restart.
	if rp.ShouldRestart("svc") {
		t.Error("should not restart when idle")
	}

	rp.RecordFailure("svc", errors.New("fail"))

	if !rp.ShouldRestart("svc") {
		t.Error("should restart after failure")
	}

	// Unknown service.
	if rp.ShouldRestart("unknown") {
		t.Error("should not restart unknown service")
	}
}

func TestRecoveryStateString(t *testing.T) {
	tests := []struct {
		state RecoveryState
		want  string
	}{
		{RecoveryIdle, "idle"},
		{RecoveryPending, "pending"},
		{RecoveryAttempting, "attempting"},
		{RecoveryExhausted, "exhausted"},
		{RecoveryState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestDefaultRecoveryConfig(t *testing.T) {
	cfg := DefaultRecoveryConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", cfg.MaxBackoff)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %f, want 2.0", cfg.BackoffMultiplier)
	}
}
