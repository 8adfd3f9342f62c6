package transport

import (
	"fmt"
	"time"

	"github.com/dbehnke/companionlink/internal/pairing"
	"github.com/dbehnke/companionlink/internal/protocol"
	"github.com/dbehnke/companionlink/internal/recovery"
)

// Config holds the constants fixed at transport construction
type Config struct {
	MaxFrameSize      int
	SendQueueSize     int
	RecvQueueSize     int
	WriteMinInterval  time.Duration
	ConnectionTimeout time.Duration
	HeartbeatInterval time.Duration // informational
	Credential        uint32
	Recovery          recovery.Policy
}

// DefaultConfig returns the firmware defaults
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:      protocol.MAX_FRAME_SIZE,
		SendQueueSize:     protocol.FRAME_QUEUE_SIZE,
		RecvQueueSize:     protocol.FRAME_QUEUE_SIZE,
		WriteMinInterval:  protocol.WRITE_MIN_INTERVAL * time.Millisecond,
		ConnectionTimeout: protocol.CONNECTION_TIMEOUT * time.Millisecond,
		HeartbeatInterval: protocol.HEARTBEAT_INTERVAL * time.Millisecond,
		Credential:        protocol.DEFAULT_PIN,
		Recovery:          recovery.DefaultPolicy(),
	}
}

// Validate rejects configurations the transport cannot run with
func (c Config) Validate() error {
	if c.MaxFrameSize < 1 || c.MaxFrameSize > 0xFFFF {
		return fmt.Errorf("max frame size %d out of range", c.MaxFrameSize)
	}
	if c.SendQueueSize < 1 || c.RecvQueueSize < 1 {
		return fmt.Errorf("queue sizes must be positive (send=%d, recv=%d)", c.SendQueueSize, c.RecvQueueSize)
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	if c.WriteMinInterval < 0 {
		return fmt.Errorf("write interval must not be negative")
	}
	if c.Credential > pairing.MaxCredential {
		return fmt.Errorf("pairing credential %d exceeds six digits", c.Credential)
	}
	if c.Recovery.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max consecutive failures must be at least 1")
	}
	if c.Recovery.RecoveryDelayMax < c.Recovery.RecoveryDelayBase {
		return fmt.Errorf("recovery delay max %v below base %v",
			c.Recovery.RecoveryDelayMax, c.Recovery.RecoveryDelayBase)
	}
	return nil
}
