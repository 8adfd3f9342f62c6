// Package pairing gates a companion session behind a fixed numeric credential.
package pairing

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Status is the progress of the current pairing exchange
type Status int

const (
	StatusIdle Status = iota // No exchange in progress
	StatusRequested          // Credential handed to the radio stack
	StatusAuthenticated      // Link-layer authentication succeeded
	StatusFailed             // Link-layer authentication failed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusRequested:
		return "REQUESTED"
	case StatusAuthenticated:
		return "AUTHENTICATED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MaxCredential is the largest value a six digit passkey can hold
const MaxCredential = 999999

// Gate answers the radio stack's pairing callbacks. Callbacks may arrive
// from the radio stack's own goroutine.
type Gate struct {
	credential uint32
	log        *zap.Logger

	mu        sync.Mutex
	status    Status
	successes uint32
	failures  uint32
}

// NewGate creates a gate for the given passkey
func NewGate(credential uint32, log *zap.Logger) (*Gate, error) {
	if credential > MaxCredential {
		return nil, fmt.Errorf("pairing credential %d exceeds six digits", credential)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{credential: credential, log: log}, nil
}

// OnCredentialRequested supplies the configured credential to the pairing exchange
func (g *Gate) OnCredentialRequested() uint32 {
	g.mu.Lock()
	g.status = StatusRequested
	g.mu.Unlock()

	g.log.Debug("pairing: credential requested")
	return g.credential
}

// OnCredentialConfirm is advisory; every candidate is accepted
func (g *Gate) OnCredentialConfirm(candidate uint32) bool {
	if candidate != g.credential {
		g.log.Warn("pairing: peer confirmed a different credential", zap.Uint32("candidate", candidate))
	} else {
		g.log.Debug("pairing: credential confirmed")
	}
	return true
}

// OnAuthenticationResult records the outcome. It returns true when the
// caller must tear the link down.
func (g *Gate) OnAuthenticationResult(success bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if success {
		g.status = StatusAuthenticated
		g.successes++
		g.log.Info("pairing: authentication succeeded")
		return false
	}

	g.status = StatusFailed
	g.failures++
	g.log.Warn("pairing: authentication failed", zap.Uint32("failures", g.failures))
	return true
}

// Reset returns the gate to idle for the next session
func (g *Gate) Reset() {
	g.mu.Lock()
	g.status = StatusIdle
	g.mu.Unlock()
}

// Status returns the current exchange status
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Counts returns the number of successful and failed authentications
func (g *Gate) Counts() (successes, failures uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.successes, g.failures
}

// Credential returns the configured passkey
func (g *Gate) Credential() uint32 {
	return g.credential
}
