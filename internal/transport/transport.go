// Package transport implements the companion frame transport: a single
// polled state machine that moves whole frames across a session-oriented
// radio link, paces writes, detects dead sessions and schedules advertising
// recovery.
//
// The upper layer calls WriteFrame to queue outbound frames and polls
// CheckRecvFrame once per scheduling tick. Radio-stack callbacks only append
// inbound frames and set flags; everything else happens on the tick.
package transport

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbehnke/companionlink/internal/clock"
	"github.com/dbehnke/companionlink/internal/health"
	"github.com/dbehnke/companionlink/internal/pairing"
	"github.com/dbehnke/companionlink/internal/protocol"
	"github.com/dbehnke/companionlink/internal/queue"
	"github.com/dbehnke/companionlink/internal/recovery"
)

// Stats is a diagnostic snapshot
type Stats struct {
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	Connected      bool           `json:"connected" yaml:"connected"`
	FrameLimit     int            `json:"frame_limit" yaml:"frame_limit"`
	SendQueued     int            `json:"send_queued" yaml:"send_queued"`
	RecvQueued     int            `json:"recv_queued" yaml:"recv_queued"`
	FramesSent     uint64         `json:"frames_sent" yaml:"frames_sent"`
	FramesReceived uint64         `json:"frames_received" yaml:"frames_received"`
	SendRejected   uint64         `json:"send_rejected" yaml:"send_rejected"`
	RecvDropped    uint64         `json:"recv_dropped" yaml:"recv_dropped"`
	WriteFailures  uint64         `json:"write_failures" yaml:"write_failures"`
	StaleTimeouts  uint64         `json:"stale_timeouts" yaml:"stale_timeouts"`
	AuthFailures   uint64         `json:"auth_failures" yaml:"auth_failures"`
	PairingOK      uint32         `json:"pairing_ok" yaml:"pairing_ok"`
	PairingFailed  uint32         `json:"pairing_failed" yaml:"pairing_failed"`
	LastHeartbeat  time.Time      `json:"last_heartbeat" yaml:"last_heartbeat"`
	LastDisconnect time.Time      `json:"last_disconnect" yaml:"last_disconnect"`
	Recovery       recovery.State `json:"recovery" yaml:"recovery"`
}

// Transport is the companion link state machine
type Transport struct {
	cfg   Config
	radio RadioLink
	clock clock.Clock
	log   *zap.Logger
	gate  *pairing.Gate

	onEvent EventHandler

	// Everything below is guarded by mu. The radio is never called with mu held.
	mu                 sync.Mutex
	enabled            bool
	sendQueue          *queue.FrameQueue
	recvQueue          *queue.FrameQueue
	health             *health.Monitor
	recovery           *recovery.Scheduler
	writePacer         *clock.Timer
	observedConnected  bool
	linkLost           bool
	stableMarked       bool
	frameLimit         int
	authFailurePending bool
	lastReason         string
	sessionSent        uint64
	sessionReceived    uint64
	reportedDrops      uint64
	stats              Stats
}

// New creates a disabled transport on top of radio
func New(cfg Config, radio RadioLink, clk clock.Clock, log *zap.Logger) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}
	if radio == nil {
		return nil, fmt.Errorf("transport requires a radio link")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	gate, err := pairing.NewGate(cfg.Credential, log.Named("pairing"))
	if err != nil {
		return nil, err
	}

	t := &Transport{
		cfg:        cfg,
		radio:      radio,
		clock:      clk,
		log:        log,
		gate:       gate,
		sendQueue:  queue.NewFrameQueue(cfg.SendQueueSize, cfg.MaxFrameSize, "send"),
		recvQueue:  queue.NewFrameQueue(cfg.RecvQueueSize, cfg.MaxFrameSize, "recv"),
		health:     health.NewMonitor(cfg.ConnectionTimeout),
		recovery:   recovery.NewScheduler(cfg.Recovery, clk, log.Named("recovery")),
		writePacer: clock.NewTimer(clk, cfg.WriteMinInterval),
		frameLimit: cfg.MaxFrameSize,
	}

	log.Debug("transport created",
		zap.Int("max_frame_size", cfg.MaxFrameSize),
		zap.Int("send_queue", cfg.SendQueueSize),
		zap.Int("recv_queue", cfg.RecvQueueSize),
		zap.Duration("connection_timeout", cfg.ConnectionTimeout))

	return t, nil
}

// SetEventHandler registers a handler for lifecycle events. Call before Enable.
func (t *Transport) SetEventHandler(h EventHandler) {
	t.onEvent = h
}

// Enable starts the service and advertising. Calling it while enabled is a no-op.
func (t *Transport) Enable() error {
	t.mu.Lock()
	if t.enabled {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.radio.StartService(); err != nil {
		return fmt.Errorf("failed to start link service: %w", err)
	}

	t.mu.Lock()
	t.enabled = true
	t.health.Reset()
	t.linkLost = false
	t.sendQueue.Clear()
	t.recvQueue.Clear()
	t.recovery.Clear()
	t.mu.Unlock()

	if err := t.radio.StartAdvertising(); err != nil {
		t.log.Warn("advertising failed to start, scheduling retry", zap.Error(err))
		t.mu.Lock()
		t.recovery.ScheduleAfter(t.cfg.Recovery.AdvertRestartDelay)
		t.mu.Unlock()
	}

	t.log.Info("transport enabled")
	return nil
}

// Disable stops advertising and the service and disconnects any attached
// peer. A live session ends with a Disconnected event that does not count
// as a failure. Safe to call at any time; Enable may be called again
// afterwards.
func (t *Transport) Disable() {
	now := t.clock.Now()

	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return
	}
	t.enabled = false
	linked := t.health.Linked()
	var events []Event
	if linked {
		t.health.MarkDisconnected(now)
		t.lastReason = "transport disabled"
	}
	if linked || t.observedConnected || t.linkLost {
		events = append(events, t.endLinkLocked(now, t.observedConnected, false))
	}
	t.observedConnected = false
	t.linkLost = false
	t.authFailurePending = false
	t.sendQueue.Clear()
	t.recvQueue.Clear()
	t.recovery.Clear()
	t.frameLimit = t.cfg.MaxFrameSize
	t.mu.Unlock()

	t.emit(events)

	if err := t.radio.StopAdvertising(); err != nil {
		t.log.Warn("failed to stop advertising", zap.Error(err))
	}
	if linked || t.radio.ConnectedPeerCount() > 0 {
		if err := t.radio.DisconnectPeer(); err != nil {
			t.log.Warn("failed to disconnect peer", zap.Error(err))
		}
	}
	if err := t.radio.StopService(); err != nil {
		t.log.Warn("failed to stop link service", zap.Error(err))
	}
	t.gate.Reset()

	t.log.Info("transport disabled")
}

// IsEnabled returns true between Enable and Disable
func (t *Transport) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// IsConnected returns true while a negotiated session is usable for frames
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.health.Connected()
}

// IsWriteBusy returns true until the minimum interval since the last
// successful radio write has passed.
func (t *Transport) IsWriteBusy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBusyLocked()
}

func (t *Transport) writeBusyLocked() bool {
	return t.writePacer.IsRunning() && !t.writePacer.HasExpired()
}

// FrameLimit returns the largest frame WriteFrame currently accepts
func (t *Transport) FrameLimit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frameLimit
}

// WriteFrame queues frame for sending and returns its length, or 0 when the
// frame cannot be taken right now (not connected, empty, too large, or the
// send queue is full). Zero is backpressure: retry later.
func (t *Transport) WriteFrame(frame []byte) int {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.health.Connected() || len(frame) == 0 || len(frame) > t.frameLimit {
		t.stats.SendRejected++
		if len(frame) > t.frameLimit {
			t.log.Debug("writeFrame: frame too big", zap.Int("len", len(frame)), zap.Int("limit", t.frameLimit))
		}
		return 0
	}
	if !t.sendQueue.TryEnqueue(frame) {
		t.stats.SendRejected++
		t.log.Debug("writeFrame: send queue is full", zap.Int("queued", t.sendQueue.Len()))
		return 0
	}

	t.health.Touch(now)
	return len(frame)
}

// CheckRecvFrame runs one tick of housekeeping and copies at most one
// inbound frame into buf. It returns the number of bytes copied, 0 when no
// frame was available. buf should hold MaxFrameSize bytes.
func (t *Transport) CheckRecvFrame(buf []byte) int {
	now := t.clock.Now()
	var events []Event
	defer func() { t.emit(events) }()

	// Health: forced disconnect of silent links, stability of long sessions
	t.mu.Lock()
	stale := t.health.IsStale(now)
	var idle time.Duration
	if stale {
		idle = now.Sub(t.health.LastHeartbeat())
		if !t.stableMarked && t.health.SessionAge(now) >= t.cfg.Recovery.StableConnection {
			t.stableMarked = true
			t.recovery.MarkStable()
		}
		t.health.MarkDisconnected(now)
		t.linkLost = true
		t.recovery.RecordFailure()
		t.stats.StaleTimeouts++
		t.lastReason = "heartbeat timeout"
		events = append(events, Event{
			Kind:                EventStaleTimeout,
			At:                  now,
			Duration:            idle,
			ConsecutiveFailures: t.recovery.ConsecutiveFailures(),
		})
	} else if t.health.Connected() && !t.stableMarked &&
		t.health.SessionAge(now) >= t.cfg.Recovery.StableConnection {
		t.stableMarked = true
		t.recovery.MarkStable()
	}
	t.mu.Unlock()

	if stale {
		t.log.Warn("connection timeout detected, forcing disconnect",
			zap.Duration("idle", idle),
			zap.Duration("timeout", t.health.Timeout()))
		if err := t.radio.DisconnectPeer(); err != nil {
			t.log.Warn("forced disconnect failed", zap.Error(err))
		}
	}

	// Send: at most one frame, spaced by the write interval
	t.mu.Lock()
	var out []byte
	if t.health.Connected() && !t.sendQueue.IsEmpty() && !t.writeBusyLocked() {
		head, _ := t.sendQueue.Peek()
		out = make([]byte, len(head))
		copy(out, head)
	}
	t.mu.Unlock()

	if out != nil {
		// A failed notify keeps the frame at the head for the next tick. A link
		// that died silently is caught by the heartbeat timeout.
		if err := t.radio.SendNotification(out); err != nil {
			t.mu.Lock()
			t.stats.WriteFailures++
			t.mu.Unlock()
			t.log.Debug("notify failed, frame kept for retry", zap.Int("len", len(out)), zap.Error(err))
			return 0
		}

		t.mu.Lock()
		t.sendQueue.Drop()
		t.writePacer.StartAt(now)
		t.health.Touch(now)
		t.stats.FramesSent++
		t.sessionSent++
		t.mu.Unlock()
		t.log.Debug("writeBytes", zap.Int("len", len(out)), zap.Uint8("hdr", out[0]))
	}

	// Receive: at most one frame
	t.mu.Lock()
	if in, ok := t.recvQueue.Dequeue(); ok {
		t.health.Touch(now)
		t.stats.FramesReceived++
		t.sessionReceived++
		t.mu.Unlock()

		n := copy(buf, in)
		if n < len(in) {
			t.log.Warn("receive buffer too small, frame truncated", zap.Int("len", len(in)), zap.Int("buf", len(buf)))
		}
		if n > 0 {
			t.log.Debug("readBytes", zap.Int("len", n), zap.Uint8("hdr", buf[0]))
		}
		return n
	}
	t.mu.Unlock()

	// Connection edges
	peers := t.radio.ConnectedPeerCount()

	t.mu.Lock()
	var stopAdvertising, disconnectPeer bool
	events = append(events, t.reconcileLocked(now, peers, &stopAdvertising, &disconnectPeer)...)

	action := recovery.ActionNone
	if t.enabled && t.recovery.Due(peers > 0) {
		action = t.recovery.Restart()
	}
	failures := t.recovery.ConsecutiveFailures()
	t.mu.Unlock()

	if disconnectPeer {
		if err := t.radio.DisconnectPeer(); err != nil {
			t.log.Warn("disconnect after failed authentication failed", zap.Error(err))
		}
	}
	if stopAdvertising {
		t.log.Info("peer connected, stopping advertising")
		if err := t.radio.StopAdvertising(); err != nil {
			t.log.Warn("failed to stop advertising", zap.Error(err))
		}
	}

	switch action {
	case recovery.ActionResetStack:
		events = append(events, Event{Kind: EventStackReset, At: now, ConsecutiveFailures: failures})
		t.resetStack()
	case recovery.ActionResumeAdvertising:
		events = append(events, Event{Kind: EventAdvertisingRestarted, At: now, ConsecutiveFailures: failures})
		if err := t.radio.StartAdvertising(); err != nil {
			t.log.Warn("advertising restart failed", zap.Error(err))
			t.mu.Lock()
			t.recovery.Schedule()
			t.mu.Unlock()
		}
	}

	return 0
}

// reconcileLocked folds link callbacks into the session lifecycle.
// Must be called with mu held.
func (t *Transport) reconcileLocked(now time.Time, peers int, stopAdvertising, disconnectPeer *bool) []Event {
	var events []Event

	if t.health.Linked() && peers == 0 {
		t.log.Debug("link lost without notification")
		t.health.MarkDisconnected(now)
		t.linkLost = true
		if t.lastReason == "" {
			t.lastReason = "peer count dropped to zero"
		}
	}

	authFailed := t.authFailurePending
	t.authFailurePending = false
	if authFailed {
		t.stats.AuthFailures++
		*disconnectPeer = true
		if t.health.Linked() {
			t.health.MarkDisconnected(now)
		}
		t.linkLost = true
		t.lastReason = "authentication failed"
		events = append(events, Event{Kind: EventAuthFailed, At: now})
	}

	linkLost := t.linkLost
	t.linkLost = false
	connected := t.health.Connected()

	switch {
	case t.observedConnected && (!connected || linkLost):
		events = append(events, t.endLinkLocked(now, true, authFailed))
		t.observedConnected = false
	case linkLost:
		// The link went away before a transfer unit was negotiated
		if t.lastReason == "" {
			t.lastReason = "link lost before negotiation"
		}
		events = append(events, t.endLinkLocked(now, false, authFailed))
	}

	if connected && !t.observedConnected {
		*stopAdvertising = true
		if t.recovery.RecoveryActive() {
			t.log.Info("peer connected during recovery",
				zap.Uint32("consecutive_failures", t.recovery.ConsecutiveFailures()))
		}
		t.recovery.Clear()
		t.recovery.RecordConnect()
		t.stableMarked = false
		t.lastReason = ""
		events = append(events, Event{
			Kind:                EventConnected,
			At:                  now,
			ConsecutiveFailures: t.recovery.ConsecutiveFailures(),
		})
		t.log.Info("peer connected", zap.Int("frame_limit", t.frameLimit))
	}

	t.observedConnected = connected

	if dropped := t.stats.RecvDropped; dropped > t.reportedDrops {
		events = append(events, Event{Kind: EventRxOverflow, At: now, Dropped: dropped - t.reportedDrops})
		t.reportedDrops = dropped
	}

	return events
}

// endLinkLocked closes out a link that health has already marked down and
// returns its Disconnected event. session is true when the link had been
// negotiated into a usable session. While enabled the recovery policy runs;
// once disabled the end is only counted. Must be called with mu held.
func (t *Transport) endLinkLocked(now time.Time, session, authFailed bool) Event {
	t.sendQueue.Clear()
	t.recvQueue.Clear()
	t.frameLimit = t.cfg.MaxFrameSize

	duration := t.health.LastDuration()
	flapping := t.health.IsFlapping(t.cfg.Recovery.StableConnection)
	if authFailed {
		duration = 0
		flapping = true
	}

	ev := Event{
		Kind:           EventDisconnected,
		At:             now,
		SessionStart:   t.health.ConnectedAt(),
		Duration:       duration,
		Flapping:       flapping,
		Reason:         t.lastReason,
		FramesSent:     t.sessionSent,
		FramesReceived: t.sessionReceived,
	}
	if session && !flapping && !t.stableMarked {
		t.recovery.MarkStable()
	}
	if t.enabled {
		ev.RestartDelay = t.recovery.OnDisconnect(flapping)
	} else {
		t.recovery.RecordDisconnect(false)
	}
	ev.ConsecutiveFailures = t.recovery.ConsecutiveFailures()

	msg := "peer disconnected"
	if !session {
		msg = "link closed before negotiation"
	}
	t.log.Info(msg,
		zap.Duration("duration", duration),
		zap.String("reason", t.lastReason),
		zap.Duration("restart_delay", ev.RestartDelay),
		zap.Uint32("consecutive_failures", ev.ConsecutiveFailures))

	t.sessionSent = 0
	t.sessionReceived = 0
	t.lastReason = ""
	t.stableMarked = false
	t.gate.Reset()
	return ev
}

func (t *Transport) resetStack() {
	if err := t.radio.StopAdvertising(); err != nil {
		t.log.Warn("failed to stop advertising for stack reset", zap.Error(err))
	}
	if resetter, ok := t.radio.(StackResetter); ok {
		if err := resetter.ResetStack(); err != nil {
			t.log.Error("radio stack reset failed", zap.Error(err))
		}
	}
	t.log.Warn("radio stack reset, advertising resumes after pause",
		zap.Duration("pause", t.cfg.Recovery.StackResetPause))
}

func (t *Transport) emit(events []Event) {
	if t.onEvent == nil {
		return
	}
	for _, ev := range events {
		t.onEvent(ev)
	}
}

// OnLinkUp records the raw link being established
func (t *Transport) OnLinkUp() {
	now := t.clock.Now()
	t.mu.Lock()
	t.health.LinkUp(now)
	t.mu.Unlock()
	t.log.Debug("link up")
}

// OnLinkDown records the link going away. A link the transport already
// closed itself is ignored.
func (t *Transport) OnLinkDown(reason string) {
	now := t.clock.Now()
	t.mu.Lock()
	if t.health.Linked() {
		t.linkLost = true
		if reason != "" {
			t.lastReason = reason
		}
	}
	t.health.MarkDisconnected(now)
	t.mu.Unlock()
	t.log.Debug("link down", zap.String("reason", reason))
}

// OnTransferUnitNegotiated marks the session usable for frames
func (t *Transport) OnTransferUnitNegotiated(mtu int) {
	now := t.clock.Now()
	t.mu.Lock()
	t.frameLimit = protocol.EffectiveFrameSize(mtu, t.cfg.MaxFrameSize)
	t.health.MarkConnected(now)
	limit := t.frameLimit
	t.mu.Unlock()
	t.log.Debug("transfer unit negotiated", zap.Int("mtu", mtu), zap.Int("frame_limit", limit))
}

// OnDataReceived queues one inbound frame, dropping it when it does not fit
func (t *Transport) OnDataReceived(data []byte) {
	t.mu.Lock()
	tooBig := len(data) > t.cfg.MaxFrameSize
	accepted := !tooBig && t.recvQueue.TryEnqueue(data)
	if !accepted {
		t.stats.RecvDropped++
	}
	t.mu.Unlock()

	if tooBig {
		t.log.Warn("onWrite: frame too big, dropped", zap.Int("len", len(data)))
	} else if !accepted {
		t.log.Warn("onWrite: recv queue is full, dropped", zap.Int("len", len(data)))
	}
}

// OnCredentialRequested supplies the pairing credential
func (t *Transport) OnCredentialRequested() uint32 {
	return t.gate.OnCredentialRequested()
}

// Credential returns the configured credential without starting an exchange
func (t *Transport) Credential() uint32 {
	return t.gate.Credential()
}

// OnCredentialConfirm accepts the candidate credential
func (t *Transport) OnCredentialConfirm(candidate uint32) bool {
	return t.gate.OnCredentialConfirm(candidate)
}

// OnAuthenticationResult schedules teardown of a link that failed to authenticate
func (t *Transport) OnAuthenticationResult(success bool) {
	if !t.gate.OnAuthenticationResult(success) {
		return
	}
	t.mu.Lock()
	t.authFailurePending = true
	t.mu.Unlock()
}

// PairingStatus returns the state of the current credential exchange
func (t *Transport) PairingStatus() pairing.Status {
	return t.gate.Status()
}

// Stats returns a diagnostic snapshot
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats
	s.Enabled = t.enabled
	s.Connected = t.health.Connected()
	s.FrameLimit = t.frameLimit
	s.SendQueued = t.sendQueue.Len()
	s.RecvQueued = t.recvQueue.Len()
	s.PairingOK, s.PairingFailed = t.gate.Counts()
	s.LastHeartbeat = t.health.LastHeartbeat()
	s.LastDisconnect = t.health.DisconnectedAt()
	s.Recovery = t.recovery.Snapshot()
	return s
}
