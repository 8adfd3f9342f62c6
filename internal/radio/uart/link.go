// Package uart drives an HM-10 style BLE module attached to a serial port.
// The module is configured with AT commands, reports connection changes as
// OK+CONN / OK+LOST status lines and carries companion frames in the serial
// framing ('<' len16le payload inbound, '>' len16le payload outbound).
package uart

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/dbehnke/companionlink/internal/protocol"
	"github.com/dbehnke/companionlink/internal/transport"
)

// Options configures the serial link
type Options struct {
	Port       string
	Baud       int
	DeviceName string
	MTU        int // reported on connect, the module fixes it at 23
}

// Link is a radio link over a serial BLE module
type Link struct {
	opts Options
	port io.ReadWriteCloser
	log  *zap.Logger

	writeMu sync.Mutex

	mu             sync.Mutex
	handler        transport.LinkHandler
	configured     bool
	serviceRunning bool
	advertising    bool
	peerAttached   bool
	closed         bool

	done chan struct{}
}

// Open opens the serial port and starts reading from the module
func Open(opts Options, log *zap.Logger) (*Link, error) {
	if opts.Baud <= 0 {
		opts.Baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: opts.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(opts.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", opts.Port, err)
	}
	return newLink(port, opts, log), nil
}

func newLink(port io.ReadWriteCloser, opts Options, log *zap.Logger) *Link {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MTU <= 0 {
		opts.MTU = protocol.DEFAULT_ATT_MTU
	}
	if opts.DeviceName == "" {
		opts.DeviceName = "Companion"
	}

	l := &Link{
		opts: opts,
		port: port,
		log:  log,
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Bind registers the handler that receives link callbacks
func (l *Link) Bind(h transport.LinkHandler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// Close closes the port and waits for the reader to stop
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	err := l.port.Close()
	<-l.done
	return err
}

// StartService programs the module name and passkey on first use
func (l *Link) StartService() error {
	l.mu.Lock()
	configured := l.configured
	h := l.handler
	l.mu.Unlock()

	if !configured {
		pin := uint32(protocol.DEFAULT_PIN)
		if h != nil {
			pin = h.Credential()
		}
		commands := []string{
			"AT+NAME" + l.opts.DeviceName,
			fmt.Sprintf("AT+PASS%06d", pin),
			"AT+TYPE2", // passkey authentication
			"AT+NOTI1", // report connect and lost
		}
		for _, cmd := range commands {
			if err := l.command(cmd); err != nil {
				return err
			}
		}
	}

	l.mu.Lock()
	l.configured = true
	l.serviceRunning = true
	l.mu.Unlock()
	l.log.Info("serial module configured", zap.String("port", l.opts.Port), zap.String("name", l.opts.DeviceName))
	return nil
}

// StopService stops accepting inbound frames
func (l *Link) StopService() error {
	l.mu.Lock()
	l.serviceRunning = false
	l.mu.Unlock()
	return nil
}

func (l *Link) StartAdvertising() error {
	l.mu.Lock()
	running := l.serviceRunning
	l.mu.Unlock()
	if !running {
		return protocol.ErrAdapterClosed
	}

	if err := l.command("AT+ADTY0"); err != nil {
		return err
	}
	l.mu.Lock()
	l.advertising = true
	l.mu.Unlock()
	return nil
}

func (l *Link) StopAdvertising() error {
	l.mu.Lock()
	advertising := l.advertising
	l.mu.Unlock()
	if !advertising {
		return nil
	}

	if err := l.command("AT+ADTY3"); err != nil {
		return err
	}
	l.mu.Lock()
	l.advertising = false
	l.mu.Unlock()
	return nil
}

// SendNotification writes one outbound frame to the module
func (l *Link) SendNotification(frame []byte) error {
	l.mu.Lock()
	attached := l.peerAttached
	l.mu.Unlock()
	if !attached {
		return protocol.ErrNotConnected
	}

	if err := l.write(encodeFrame(frame)); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrNotifyRejected, err)
	}
	return nil
}

// DisconnectPeer sends a bare AT, which the module treats as a disconnect
// request while a central is attached.
func (l *Link) DisconnectPeer() error {
	l.mu.Lock()
	attached := l.peerAttached
	l.mu.Unlock()
	if !attached {
		return nil
	}
	return l.command("AT")
}

func (l *Link) ConnectedPeerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.peerAttached {
		return 1
	}
	return 0
}

// ResetStack restarts the module. It keeps its stored name and passkey.
func (l *Link) ResetStack() error {
	l.mu.Lock()
	l.advertising = false
	l.mu.Unlock()
	return l.command("AT+RESET")
}

func (l *Link) command(cmd string) error {
	l.log.Debug("TX", zap.String("cmd", cmd))
	if err := l.write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("serial command %s failed: %w", cmd, err)
	}
	return nil
}

func (l *Link) write(p []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return protocol.ErrAdapterClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := l.port.Write(p)
	return err
}

// run reads the module stream until the port closes
func (l *Link) run() {
	defer close(l.done)

	var dec decoder
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		if n > 0 {
			for _, msg := range dec.feed(buf[:n]) {
				l.dispatch(msg)
			}
		}
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed {
				l.log.Error("serial read failed", zap.Error(err))
			}
			l.linkLost("serial port closed")
			return
		}
	}
}

func (l *Link) dispatch(msg message) {
	switch msg.kind {
	case messageFrame:
		l.mu.Lock()
		h := l.handler
		accept := l.serviceRunning && l.peerAttached
		l.mu.Unlock()
		if !accept || h == nil {
			l.log.Debug("inbound frame ignored", zap.Int("len", len(msg.payload)))
			return
		}
		h.OnDataReceived(msg.payload)

	case messageStatus:
		l.log.Debug("RX", zap.String("status", msg.status))
		switch {
		case msg.status == "OK+CONN":
			l.linkUp()
		case msg.status == "OK+LOST":
			l.linkLost("module reported link lost")
		case strings.HasPrefix(msg.status, "ERROR"):
			l.log.Warn("module rejected command", zap.String("status", msg.status))
		}
	}
}

func (l *Link) linkUp() {
	l.mu.Lock()
	if l.peerAttached {
		l.mu.Unlock()
		return
	}
	l.peerAttached = true
	l.advertising = false
	h := l.handler
	l.mu.Unlock()

	l.log.Info("peer connected")
	if h != nil {
		h.OnLinkUp()
		h.OnTransferUnitNegotiated(l.opts.MTU)
	}
}

func (l *Link) linkLost(reason string) {
	l.mu.Lock()
	if !l.peerAttached {
		l.mu.Unlock()
		return
	}
	l.peerAttached = false
	h := l.handler
	l.mu.Unlock()

	l.log.Info("peer disconnected", zap.String("reason", reason))
	if h != nil {
		h.OnLinkDown(reason)
	}
}
