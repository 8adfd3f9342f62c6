package transport

import "time"

// EventKind classifies a transport event
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventStaleTimeout
	EventAuthFailed
	EventAdvertisingRestarted
	EventStackReset
	EventRxOverflow
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventStaleTimeout:
		return "stale_timeout"
	case EventAuthFailed:
		return "auth_failed"
	case EventAdvertisingRestarted:
		return "advertising_restarted"
	case EventStackReset:
		return "stack_reset"
	case EventRxOverflow:
		return "rx_overflow"
	default:
		return "unknown"
	}
}

// Event describes one lifecycle change. Events are delivered from the tick
// or from Disable, never from radio callbacks.
type Event struct {
	Kind                EventKind
	At                  time.Time
	SessionStart        time.Time     // Disconnected only
	Duration            time.Duration // Session length, or idle time for StaleTimeout
	Flapping            bool
	Reason              string
	RestartDelay        time.Duration
	ConsecutiveFailures uint32
	FramesSent          uint64
	FramesReceived      uint64
	Dropped             uint64 // RxOverflow only
}

// EventHandler is called for every event, after the transport lock is released
type EventHandler func(Event)
