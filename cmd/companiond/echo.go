package main

import (
	"go.uber.org/zap"
)

// frameTransport is the upper-layer surface of *transport.Transport
type frameTransport interface {
	CheckRecvFrame(buf []byte) int
	WriteFrame(frame []byte) int
	IsWriteBusy() bool
	IsConnected() bool
	FrameLimit() int
}

// echo is the demo upper layer: every received frame is written back.
// Frames wait in a short FIFO while the transport pushes back; a frame is
// dropped only when that FIFO is full.
type echo struct {
	tr    frameTransport
	log   *zap.Logger
	buf   []byte
	depth int

	held    [][]byte
	echoed  uint64
	dropped uint64
}

func newEcho(tr frameTransport, maxFrameSize, depth int, log *zap.Logger) *echo {
	if depth < 1 {
		depth = 1
	}
	return &echo{tr: tr, log: log, buf: make([]byte, maxFrameSize), depth: depth}
}

// poll runs one tick of the transport and moves at most one frame back out
func (e *echo) poll() {
	if n := e.tr.CheckRecvFrame(e.buf); n > 0 {
		if len(e.held) < e.depth {
			e.held = append(e.held, append([]byte(nil), e.buf[:n]...))
		} else {
			e.dropped++
			e.log.Debug("echo: backlog full, frame dropped", zap.Int("len", n), zap.Int("held", len(e.held)))
		}
	}

	if len(e.held) == 0 {
		return
	}
	if !e.tr.IsConnected() {
		e.dropped += uint64(len(e.held))
		e.held = nil
		return
	}
	if len(e.held[0]) > e.tr.FrameLimit() {
		e.dropped++
		e.held = e.held[1:]
		return
	}
	if e.tr.IsWriteBusy() {
		return
	}
	if e.tr.WriteFrame(e.held[0]) > 0 {
		e.echoed++
		e.held = e.held[1:]
	}
}
