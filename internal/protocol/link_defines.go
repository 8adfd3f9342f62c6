package protocol

import "errors"

// Companion link constants equivalent to the firmware's serial interface defines

const (
	// Frame and queue sizes
	MAX_FRAME_SIZE    = 172 // Largest companion frame in bytes
	FRAME_QUEUE_SIZE  = 4   // Default depth of each direction's queue
	ATT_HEADER_LENGTH = 3   // Opcode + handle carried in every notification
	DEFAULT_ATT_MTU   = 23  // Unnegotiated ATT MTU
	PREFERRED_ATT_MTU = 247 // MTU requested when the stack lets us choose

	// Recovery timing in milliseconds
	ADVERT_RESTART_DELAY     = 1000
	MAX_CONSECUTIVE_FAILURES = 5
	RECOVERY_DELAY_BASE      = 5000
	RECOVERY_DELAY_MAX       = 30000
	STABLE_CONNECTION        = 5000 // Shorter sessions count as flapping
	STACK_RESET_PAUSE        = 1000

	// Health timing in milliseconds
	HEARTBEAT_INTERVAL  = 10000 // Informational only
	CONNECTION_TIMEOUT  = 45000
	WRITE_MIN_INTERVAL  = 60
	DEFAULT_TICK_PERIOD = 10

	// Pairing
	DEFAULT_PIN = 123456
)

// Nordic UART service layout advertised to companion apps
const (
	SERVICE_UUID           = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"
	CHARACTERISTIC_UUID_RX = "6E400002-B5A3-F393-E0A9-E50E24DCCA9E"
	CHARACTERISTIC_UUID_TX = "6E400003-B5A3-F393-E0A9-E50E24DCCA9E"
)

// Serial framing markers used when frames cross a byte stream
const (
	FRAME_MARKER_INBOUND  = '<' // app -> node
	FRAME_MARKER_OUTBOUND = '>' // node -> app
	FRAME_HEADER_LENGTH   = 3   // marker + little-endian uint16 length
)

var (
	ErrNotConnected   = errors.New("link: no peer connected")
	ErrNotifyRejected = errors.New("link: notification rejected")
	ErrAdapterClosed  = errors.New("link: adapter closed")
)

// EffectiveFrameSize returns the largest frame that fits in one notification
// for the given MTU, bounded by limit.
func EffectiveFrameSize(mtu, limit int) int {
	if mtu <= ATT_HEADER_LENGTH {
		return limit
	}
	payload := mtu - ATT_HEADER_LENGTH
	if payload < limit {
		return payload
	}
	return limit
}
