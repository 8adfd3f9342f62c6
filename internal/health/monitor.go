// Package health tracks heartbeat recency and connection timestamps for the
// single companion session and derives staleness and flap signals from them.
package health

import "time"

// Monitor holds the session timestamps. It is not safe for concurrent use;
// the transport guards it with its own lock.
type Monitor struct {
	timeout time.Duration

	linked         bool
	connected      bool
	lastHeartbeat  time.Time
	connectedAt    time.Time
	disconnectedAt time.Time
}

// NewMonitor creates a monitor that declares a connected session stale after
// timeout without activity.
func NewMonitor(timeout time.Duration) *Monitor {
	return &Monitor{timeout: timeout}
}

// LinkUp records the raw link being established. The link counts towards
// staleness from here even before the session becomes usable.
func (m *Monitor) LinkUp(now time.Time) {
	m.linked = true
	m.connectedAt = now
	m.lastHeartbeat = now
}

// MarkConnected marks the session usable for frames
func (m *Monitor) MarkConnected(now time.Time) {
	if m.connectedAt.IsZero() || !m.connectedAt.After(m.disconnectedAt) {
		m.connectedAt = now
	}
	m.linked = true
	m.connected = true
	m.lastHeartbeat = now
}

// MarkDisconnected records the end of the link and the session
func (m *Monitor) MarkDisconnected(now time.Time) {
	m.linked = false
	m.connected = false
	m.disconnectedAt = now
}

// Touch records activity on the session
func (m *Monitor) Touch(now time.Time) {
	m.lastHeartbeat = now
}

// IsStale reports whether a link has gone quiet for longer than the
// timeout. A link that never negotiates a session goes stale too.
func (m *Monitor) IsStale(now time.Time) bool {
	return m.linked && now.Sub(m.lastHeartbeat) > m.timeout
}

// SessionAge returns how long the current session has been up, zero when
// disconnected.
func (m *Monitor) SessionAge(now time.Time) time.Duration {
	if !m.connected || m.connectedAt.IsZero() {
		return 0
	}
	return now.Sub(m.connectedAt)
}

// LastDuration returns the length of the most recent finished session.
// A disconnect that was never preceded by a link-up counts as zero.
func (m *Monitor) LastDuration() time.Duration {
	if m.connectedAt.IsZero() || m.disconnectedAt.Before(m.connectedAt) {
		return 0
	}
	return m.disconnectedAt.Sub(m.connectedAt)
}

// IsFlapping reports whether the last session ended before reaching the
// stability threshold.
func (m *Monitor) IsFlapping(threshold time.Duration) bool {
	return m.LastDuration() < threshold
}

// Reset forgets all timestamps
func (m *Monitor) Reset() {
	*m = Monitor{timeout: m.timeout}
}

func (m *Monitor) Linked() bool              { return m.linked }
func (m *Monitor) Connected() bool           { return m.connected }
func (m *Monitor) LastHeartbeat() time.Time  { return m.lastHeartbeat }
func (m *Monitor) ConnectedAt() time.Time    { return m.connectedAt }
func (m *Monitor) DisconnectedAt() time.Time { return m.disconnectedAt }
func (m *Monitor) Timeout() time.Duration    { return m.timeout }
