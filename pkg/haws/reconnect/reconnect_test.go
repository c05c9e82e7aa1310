package reconnect

import (
	"testing"
	"time"
)

// fixed returns a Manager whose jitter source is deterministic.
func fixed(f float64) *Manager {
	m := NewManager()
	m.rand = func() float64 { return f }
	return m
}

func TestBackoffGrowth(t *testing.T) {
	m := fixed(0)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, w := range want {
		if got := m.Next(); got != w {
			t.Errorf("attempt %d: delay = %v; want %v", i, got, w)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	// Jitter factor just below 1.0 must stay under half the raw delay.
	m := fixed(0.999)

	d := m.Next()
	if d < time.Second || d >= time.Second+time.Second/2 {
		t.Errorf("first delay with max jitter = %v; want [1s, 1.5s)", d)
	}

	m2 := NewManager()
	for i := 0; i < 100; i++ {
		d := m2.Next()
		raw := DefaultBase << uint(i)
		if raw > DefaultCap || raw <= 0 {
			raw = DefaultCap
		}
		if d < raw || d > raw+raw/2 {
			t.Fatalf("attempt %d: delay %v outside [%v, %v]", i, d, raw, raw+raw/2)
		}
	}
}

func TestSucceededResets(t *testing.T) {
	m := fixed(0)
	m.Next()
	m.Next()
	m.Next()

	m.Succeeded()
	if got := m.Next(); got != time.Second {
		t.Errorf("delay after reset = %v; want 1s", got)
	}
}

func TestPermanent(t *testing.T) {
	m := NewManager()
	if !m.ShouldAttempt() {
		t.Fatal("new manager should allow attempts")
	}

	m.SetPermanent(true)
	if m.ShouldAttempt() {
		t.Error("permanent disconnect must suppress attempts")
	}

	m.SetPermanent(false)
	if !m.ShouldAttempt() {
		t.Error("explicit connect must re-enable attempts")
	}
}
