package database

import (
	"fmt"
	"time"
)

// SessionRecord is one closed companion session
type SessionRecord struct {
	ID                  uint      `gorm:"primarykey" json:"id" yaml:"id"`
	StartedAt           time.Time `gorm:"index" json:"started_at" yaml:"started_at"`
	EndedAt             time.Time `json:"ended_at" yaml:"ended_at"`
	DurationMs          int64     `json:"duration_ms" yaml:"duration_ms"`
	Flapping            bool      `gorm:"index" json:"flapping" yaml:"flapping"`
	Reason              string    `gorm:"size:64" json:"reason" yaml:"reason"`
	FramesSent          uint64    `json:"frames_sent" yaml:"frames_sent"`
	FramesReceived      uint64    `json:"frames_received" yaml:"frames_received"`
	RestartDelayMs      int64     `json:"restart_delay_ms" yaml:"restart_delay_ms"`
	ConsecutiveFailures uint32    `json:"consecutive_failures" yaml:"consecutive_failures"`
}

// TableName specifies the table name for GORM
func (SessionRecord) TableName() string {
	return "sessions"
}

// Duration returns how long the session lasted
func (s SessionRecord) Duration() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}

// String returns a formatted string representation
func (s SessionRecord) String() string {
	result := fmt.Sprintf("%s %v sent=%d recv=%d",
		s.StartedAt.Format("2006-01-02 15:04:05"), s.Duration(), s.FramesSent, s.FramesReceived)
	if s.Flapping {
		result += " (flapping)"
	}
	if s.Reason != "" {
		result += fmt.Sprintf(" [%s]", s.Reason)
	}
	return result
}

// LinkEvent is a lifecycle event that is not a session close
type LinkEvent struct {
	ID                  uint      `gorm:"primarykey" json:"id" yaml:"id"`
	At                  time.Time `gorm:"index" json:"at" yaml:"at"`
	Kind                string    `gorm:"index;size:32" json:"kind" yaml:"kind"`
	ConsecutiveFailures uint32    `json:"consecutive_failures" yaml:"consecutive_failures"`
	Dropped             uint64    `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	IdleMs              int64     `json:"idle_ms,omitempty" yaml:"idle_ms,omitempty"`
}

// TableName specifies the table name for GORM
func (LinkEvent) TableName() string {
	return "link_events"
}

// Summary aggregates the journal
type Summary struct {
	Sessions            int64         `json:"sessions" yaml:"sessions"`
	FlappingSessions    int64         `json:"flapping_sessions" yaml:"flapping_sessions"`
	FlapRate            float64       `json:"flap_rate" yaml:"flap_rate"`
	TotalConnected      time.Duration `json:"total_connected" yaml:"total_connected"`
	AverageSession      time.Duration `json:"average_session" yaml:"average_session"`
	FramesSent          int64         `json:"frames_sent" yaml:"frames_sent"`
	FramesReceived      int64         `json:"frames_received" yaml:"frames_received"`
	StaleTimeouts       int64         `json:"stale_timeouts" yaml:"stale_timeouts"`
	AuthFailures        int64         `json:"auth_failures" yaml:"auth_failures"`
	AdvertisingRestarts int64         `json:"advertising_restarts" yaml:"advertising_restarts"`
	StackResets         int64         `json:"stack_resets" yaml:"stack_resets"`
	RxDropped           int64         `json:"rx_dropped" yaml:"rx_dropped"`
	LastSessionEnded    time.Time     `json:"last_session_ended" yaml:"last_session_ended"`
}
