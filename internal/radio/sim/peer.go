package sim

import (
	"context"
	"encoding/binary"
	"time"

	"go.uber.org/zap"
)

// PeerOptions controls the scripted demo peer
type PeerOptions struct {
	MTU          int
	Passkey      uint32
	Interval     time.Duration // between peer writes
	SessionLimit int           // frames per session before the peer drops, 0 for never
}

// RunPeer drives link from the peer side until ctx is done: it connects
// whenever the link advertises, writes a numbered frame every Interval and
// logs the frames notified back.
func RunPeer(ctx context.Context, link *Link, opts PeerOptions) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.MTU <= 0 {
		opts.MTU = 247
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var seq uint32
	var sent int
	for {
		select {
		case <-ctx.Done():
			link.Drop("peer shutdown")
			return
		case <-ticker.C:
		}

		if link.ConnectedPeerCount() == 0 {
			if !link.Advertising() {
				continue
			}
			if link.ConnectWithPasskey(opts.MTU, opts.Passkey) {
				link.log.Info("sim peer: connected", zap.Int("mtu", opts.MTU))
				sent = 0
			} else {
				link.log.Warn("sim peer: pairing rejected")
			}
			continue
		}

		for _, f := range link.TakeNotifications() {
			link.log.Debug("sim peer: notification", zap.Int("len", len(f)), zap.Binary("frame", f))
		}

		if opts.SessionLimit > 0 && sent >= opts.SessionLimit {
			link.log.Info("sim peer: dropping session", zap.Int("frames", sent))
			link.Drop("peer closed session")
			continue
		}

		seq++
		frame := make([]byte, 5)
		frame[0] = 0x01
		binary.LittleEndian.PutUint32(frame[1:], seq)
		link.PeerWrite(frame)
		sent++
	}
}
