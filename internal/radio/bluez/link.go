// Package bluez binds the companion transport to the host Bluetooth stack
// through tinygo.org/x/bluetooth. The link exposes the Nordic UART service:
// the peer writes frames to the RX characteristic and receives frames as
// notifications on the TX characteristic.
//
// Pairing is handled by the system agent (bluetoothctl or similar); the
// configured PIN must be registered there.
package bluez

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dbehnke/companionlink/internal/protocol"
	"github.com/dbehnke/companionlink/internal/transport"
)

// Options configures the link
type Options struct {
	DeviceName string
	// AssumedMTU is reported on connect; the host stack does not expose the
	// negotiated value.
	AssumedMTU int
}

// peer is one connected central
type peer interface {
	Address() string
	Disconnect() error
}

// peripheral is the part of the host stack the link drives
type peripheral interface {
	Enable() error
	SetConnectHandler(fn func(p peer, connected bool))
	AddUARTService(onWrite func(data []byte)) error
	ConfigureAdvertising(localName string) error
	StartAdvertising() error
	StopAdvertising() error
	Notify(frame []byte) error
}

// Link is a single-peer radio link on the host Bluetooth adapter
type Link struct {
	opts Options
	host peripheral
	log  *zap.Logger

	mu             sync.Mutex
	handler        transport.LinkHandler
	stackEnabled   bool
	serviceAdded   bool
	serviceRunning bool
	advertising    bool
	peer           peer
}

// New creates a link on the default host adapter
func New(opts Options, log *zap.Logger) *Link {
	return newLink(opts, newHostPeripheral(), log)
}

func newLink(opts Options, host peripheral, log *zap.Logger) *Link {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.AssumedMTU <= 0 {
		opts.AssumedMTU = protocol.PREFERRED_ATT_MTU
	}
	if opts.DeviceName == "" {
		opts.DeviceName = "Companion"
	}
	return &Link{opts: opts, host: host, log: log}
}

// Bind registers the handler that receives link callbacks
func (l *Link) Bind(h transport.LinkHandler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// StartService enables the adapter and registers the UART service. The host
// stack cannot unregister services, so this happens once per process.
func (l *Link) StartService() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.stackEnabled {
		if err := l.host.Enable(); err != nil {
			return fmt.Errorf("failed to enable bluetooth adapter: %w", err)
		}
		l.host.SetConnectHandler(l.onConnect)
		l.stackEnabled = true
	}
	if !l.serviceAdded {
		if err := l.host.AddUARTService(l.onWrite); err != nil {
			return fmt.Errorf("failed to add UART service: %w", err)
		}
		if err := l.host.ConfigureAdvertising(l.opts.DeviceName); err != nil {
			return fmt.Errorf("failed to configure advertising: %w", err)
		}
		l.serviceAdded = true
	}

	l.serviceRunning = true
	l.log.Info("bluetooth service started", zap.String("name", l.opts.DeviceName))
	return nil
}

// StopService stops accepting inbound frames
func (l *Link) StopService() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.serviceRunning = false
	return nil
}

func (l *Link) StartAdvertising() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.serviceRunning {
		return protocol.ErrAdapterClosed
	}
	if err := l.host.StartAdvertising(); err != nil {
		return fmt.Errorf("failed to start advertising: %w", err)
	}
	l.advertising = true
	return nil
}

func (l *Link) StopAdvertising() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.advertising {
		return nil
	}
	if err := l.host.StopAdvertising(); err != nil {
		return fmt.Errorf("failed to stop advertising: %w", err)
	}
	l.advertising = false
	return nil
}

// SendNotification notifies the peer on the TX characteristic
func (l *Link) SendNotification(frame []byte) error {
	l.mu.Lock()
	attached := l.peer != nil
	l.mu.Unlock()

	if !attached {
		return protocol.ErrNotConnected
	}
	if err := l.host.Notify(frame); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrNotifyRejected, err)
	}
	return nil
}

// DisconnectPeer asks the stack to drop the peer. The link goes down when
// the stack reports the disconnect.
func (l *Link) DisconnectPeer() error {
	l.mu.Lock()
	p := l.peer
	l.mu.Unlock()

	if p == nil {
		return nil
	}
	if err := p.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", p.Address(), err)
	}
	return nil
}

func (l *Link) ConnectedPeerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.peer != nil {
		return 1
	}
	return 0
}

// ResetStack stops advertising and reconfigures the advertisement
func (l *Link) ResetStack() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.advertising {
		if err := l.host.StopAdvertising(); err != nil {
			l.log.Warn("stop advertising during reset failed", zap.Error(err))
		}
		l.advertising = false
	}
	if err := l.host.ConfigureAdvertising(l.opts.DeviceName); err != nil {
		return fmt.Errorf("failed to reconfigure advertising: %w", err)
	}
	l.log.Info("bluetooth advertising reconfigured")
	return nil
}

func (l *Link) onConnect(p peer, connected bool) {
	l.mu.Lock()
	h := l.handler
	if connected {
		if l.peer != nil {
			l.mu.Unlock()
			l.log.Warn("rejecting second peer", zap.String("addr", p.Address()))
			if err := p.Disconnect(); err != nil {
				l.log.Warn("failed to reject peer", zap.Error(err))
			}
			return
		}
		l.peer = p
		l.advertising = false
		l.mu.Unlock()

		l.log.Info("peer connected", zap.String("addr", p.Address()))
		if h != nil {
			h.OnLinkUp()
			h.OnTransferUnitNegotiated(l.opts.AssumedMTU)
		}
		return
	}

	if l.peer == nil || l.peer.Address() != p.Address() {
		l.mu.Unlock()
		return
	}
	l.peer = nil
	l.mu.Unlock()

	l.log.Info("peer disconnected", zap.String("addr", p.Address()))
	if h != nil {
		h.OnLinkDown("peer disconnected")
	}
}

func (l *Link) onWrite(data []byte) {
	l.mu.Lock()
	h := l.handler
	running := l.serviceRunning && l.peer != nil
	l.mu.Unlock()

	if !running || h == nil {
		l.log.Debug("inbound write ignored", zap.Int("len", len(data)))
		return
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	h.OnDataReceived(frame)
}
