package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "Stopped"},
		{StateStarting, "Starting"},
		{StateRunning, "Running"},
		{StateStopping, "Stopping"},
		{StateCrashed, "Crashed"},
		{State(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestManager_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr error
	}{
		{"full cycle", []State{StateStarting, StateRunning, StateStopping, StateStopped}, nil},
		{"crash while starting", []State{StateStarting, StateCrashed, StateStarting}, nil},
		{"crash while running", []State{StateStarting, StateRunning, StateCrashed}, nil},
		{"stopped to running", []State{StateRunning}, ErrNotRunning},
		{"double start", []State{StateStarting, StateStarting}, ErrAlreadyRunning},
		{"running to stopped", []State{StateStarting, StateRunning, StateStopped}, ErrAlreadyRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil)
			var err error
			for _, s := range tt.path {
				if err = m.TransitionTo(s, "test"); err != nil {
					break
				}
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestManager_CanStartCanStop(t *testing.T) {
	m := NewManager(nil)
	if !m.CanStart() || m.CanStop() {
		t.Fatal("stopped manager must be startable and not stoppable")
	}
	m.TransitionTo(StateStarting, "test")
	m.TransitionTo(StateRunning, "test")
	if m.CanStart() || !m.CanStop() {
		t.Fatal("running manager must be stoppable and not startable")
	}
}

func TestManager_WaitWithTimeout(t *testing.T) {
	m := NewManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	m.SetCancel(cancel)
	m.Go(func() { <-ctx.Done() })

	if err := m.WaitWithTimeout(20 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("expect ErrShutdownTimeout, got %v", err)
	}
	m.Cancel()
	if err := m.WaitWithTimeout(time.Second); err != nil {
		t.Fatalf("expect clean wait after cancel, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 350*time.Millisecond)

	for i, base := range []time.Duration{100, 200, 350, 350} {
		base *= time.Millisecond
		d := b.Next()
		lo, hi := time.Duration(float64(base)*0.8), time.Duration(float64(base)*1.2)
		if d < lo || d > hi {
			t.Fatalf("attempt %d: delay %v outside [%v, %v]", i, d, lo, hi)
		}
	}
	b.Reset()
	if b.Current() != 100*time.Millisecond {
		t.Fatalf("reset: current = %v", b.Current())
	}
}

func TestBackoff_WaitCancelled(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
}
