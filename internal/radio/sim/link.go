// Package sim provides an in-memory radio link with a scriptable peer.
// It backs the transport tests and the daemon's demo mode.
package sim

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dbehnke/companionlink/internal/protocol"
	"github.com/dbehnke/companionlink/internal/transport"
)

// Counters records how the transport drove the link
type Counters struct {
	ServiceStarts  int
	ServiceStops   int
	AdvertStarts   int
	AdvertStops    int
	Disconnects    int
	StackResets    int
	NotifyFailures int
	Notifications  int
}

// Link is a simulated single-peer radio link. Callbacks are delivered
// synchronously on the caller's goroutine, never with the link lock held.
type Link struct {
	log *zap.Logger

	mu              sync.Mutex
	handler         transport.LinkHandler
	serviceRunning  bool
	advertising     bool
	peerAttached    bool
	failSends       int
	failAdvertising int
	notifications   [][]byte
	counters        Counters
}

// New creates an idle simulated link
func New(log *zap.Logger) *Link {
	if log == nil {
		log = zap.NewNop()
	}
	return &Link{log: log}
}

// Bind registers the handler that receives link callbacks
func (l *Link) Bind(h transport.LinkHandler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *Link) StartService() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.serviceRunning = true
	l.counters.ServiceStarts++
	return nil
}

func (l *Link) StopService() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.serviceRunning = false
	l.counters.ServiceStops++
	return nil
}

func (l *Link) StartAdvertising() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAdvertising > 0 {
		l.failAdvertising--
		return protocol.ErrAdapterClosed
	}
	l.advertising = true
	l.counters.AdvertStarts++
	return nil
}

func (l *Link) StopAdvertising() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advertising = false
	l.counters.AdvertStops++
	return nil
}

// SendNotification records the frame as delivered to the peer
func (l *Link) SendNotification(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.peerAttached {
		l.counters.NotifyFailures++
		return protocol.ErrNotConnected
	}
	if l.failSends > 0 {
		l.failSends--
		l.counters.NotifyFailures++
		return protocol.ErrNotifyRejected
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	l.notifications = append(l.notifications, cp)
	l.counters.Notifications++
	return nil
}

// DisconnectPeer drops the peer and reports the link going down
func (l *Link) DisconnectPeer() error {
	l.mu.Lock()
	l.counters.Disconnects++
	wasAttached := l.peerAttached
	l.peerAttached = false
	h := l.handler
	l.mu.Unlock()

	if wasAttached && h != nil {
		h.OnLinkDown("local disconnect")
	}
	return nil
}

func (l *Link) ConnectedPeerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.peerAttached {
		return 1
	}
	return 0
}

// ResetStack simulates reinitializing the radio stack
func (l *Link) ResetStack() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advertising = false
	l.counters.StackResets++
	return nil
}

// Connect attaches the peer and negotiates mtu. It returns false if the
// link is not advertising or a peer is already attached.
func (l *Link) Connect(mtu int) bool {
	h, ok := l.attach()
	if !ok {
		return false
	}
	if h != nil {
		h.OnLinkUp()
		h.OnTransferUnitNegotiated(mtu)
	}
	return true
}

// Attach brings the raw link up without negotiating a transfer unit, so the
// peer counts as attached but the session is not yet usable.
func (l *Link) Attach() bool {
	h, ok := l.attach()
	if ok && h != nil {
		h.OnLinkUp()
	}
	return ok
}

// Negotiate completes the transfer unit exchange for an attached peer
func (l *Link) Negotiate(mtu int) {
	l.mu.Lock()
	attached := l.peerAttached
	h := l.handler
	l.mu.Unlock()

	if attached && h != nil {
		h.OnTransferUnitNegotiated(mtu)
	}
}

// ConnectWithPasskey attaches the peer and runs the pairing exchange with the
// given passkey. The session is only negotiated when the passkey matches.
func (l *Link) ConnectWithPasskey(mtu int, passkey uint32) bool {
	h, ok := l.attach()
	if !ok || h == nil {
		return ok
	}

	h.OnLinkUp()
	expected := h.OnCredentialRequested()
	h.OnCredentialConfirm(passkey)
	matched := expected == passkey
	h.OnAuthenticationResult(matched)
	if matched {
		h.OnTransferUnitNegotiated(mtu)
	}
	return matched
}

func (l *Link) attach() (transport.LinkHandler, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.advertising || l.peerAttached {
		return nil, false
	}
	l.peerAttached = true
	return l.handler, true
}

// Drop detaches the peer and reports it with reason
func (l *Link) Drop(reason string) {
	l.mu.Lock()
	wasAttached := l.peerAttached
	l.peerAttached = false
	h := l.handler
	l.mu.Unlock()

	if wasAttached && h != nil {
		h.OnLinkDown(reason)
	}
}

// DropSilently detaches the peer without any callback, like a stack that
// misses the disconnect notification.
func (l *Link) DropSilently() {
	l.mu.Lock()
	l.peerAttached = false
	l.mu.Unlock()
}

// PeerWrite delivers a frame written by the peer to the inbound endpoint
func (l *Link) PeerWrite(frame []byte) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()

	if h != nil {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		h.OnDataReceived(cp)
	}
}

// TakeNotifications returns and forgets the frames notified so far
func (l *Link) TakeNotifications() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.notifications
	l.notifications = nil
	return out
}

// FailNextSends makes the next n notifications fail
func (l *Link) FailNextSends(n int) {
	l.mu.Lock()
	l.failSends = n
	l.mu.Unlock()
}

// FailNextAdvertising makes the next n advertising starts fail
func (l *Link) FailNextAdvertising(n int) {
	l.mu.Lock()
	l.failAdvertising = n
	l.mu.Unlock()
}

func (l *Link) Advertising() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.advertising
}

func (l *Link) ServiceRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serviceRunning
}

func (l *Link) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters
}
