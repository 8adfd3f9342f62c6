package health

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMonitor_Staleness(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		idle      time.Duration
		want      bool
	}{
		{name: "fresh", connected: true, idle: time.Second, want: false},
		{name: "exactly at timeout", connected: true, idle: 45 * time.Second, want: false},
		{name: "past timeout", connected: true, idle: 45*time.Second + time.Millisecond, want: true},
		{name: "disconnected never stale", connected: false, idle: time.Hour, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(45 * time.Second)
			if tt.connected {
				m.MarkConnected(epoch)
			}
			if got := m.IsStale(epoch.Add(tt.idle)); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonitor_RawLinkGoesStale(t *testing.T) {
	m := NewMonitor(45 * time.Second)
	m.LinkUp(epoch)

	if m.Connected() || !m.Linked() {
		t.Fatalf("Connected() = %v, Linked() = %v after LinkUp", m.Connected(), m.Linked())
	}
	if m.IsStale(epoch.Add(45 * time.Second)) {
		t.Error("IsStale() = true at exactly the timeout")
	}
	if !m.IsStale(epoch.Add(45*time.Second + time.Millisecond)) {
		t.Error("IsStale() = false for a link that never negotiated")
	}

	m.MarkDisconnected(epoch.Add(time.Minute))
	if m.Linked() || m.IsStale(epoch.Add(time.Hour)) {
		t.Error("link still tracked after MarkDisconnected")
	}
}

func TestMonitor_TouchDefersTimeout(t *testing.T) {
	m := NewMonitor(10 * time.Second)
	m.MarkConnected(epoch)

	m.Touch(epoch.Add(8 * time.Second))
	if m.IsStale(epoch.Add(15 * time.Second)) {
		t.Error("IsStale() = true 7s after heartbeat")
	}
	if !m.IsStale(epoch.Add(19 * time.Second)) {
		t.Error("IsStale() = false 11s after heartbeat")
	}
}

func TestMonitor_SessionDurations(t *testing.T) {
	m := NewMonitor(time.Minute)
	m.LinkUp(epoch)
	m.MarkConnected(epoch.Add(200 * time.Millisecond))

	if got := m.SessionAge(epoch.Add(3 * time.Second)); got != 3*time.Second {
		t.Errorf("SessionAge() = %v, want 3s", got)
	}

	m.MarkDisconnected(epoch.Add(4 * time.Second))
	if m.Connected() {
		t.Error("Connected() = true after MarkDisconnected")
	}
	if got := m.LastDuration(); got != 4*time.Second {
		t.Errorf("LastDuration() = %v, want 4s", got)
	}
	if !m.IsFlapping(5 * time.Second) {
		t.Error("IsFlapping(5s) = false for a 4s session")
	}
	if m.IsFlapping(4 * time.Second) {
		t.Error("IsFlapping(4s) = true for a 4s session")
	}
	if m.SessionAge(epoch.Add(10*time.Second)) != 0 {
		t.Error("SessionAge() non-zero while disconnected")
	}
}

func TestMonitor_DisconnectWithoutLinkUp(t *testing.T) {
	m := NewMonitor(time.Minute)
	m.MarkDisconnected(epoch)

	if got := m.LastDuration(); got != 0 {
		t.Errorf("LastDuration() = %v, want 0", got)
	}

	m.Reset()
	if !m.ConnectedAt().IsZero() || !m.DisconnectedAt().IsZero() || m.Timeout() != time.Minute {
		t.Error("Reset() did not clear timestamps or lost timeout")
	}
}
