package uart

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/companionlink/internal/pairing"
	"github.com/dbehnke/companionlink/internal/protocol"
	"github.com/dbehnke/companionlink/internal/transport"
)

// fakePort feeds module output through a pipe and records host writes
type fakePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error { return p.r.Close() }

func (p *fakePort) module(s string) { _, _ = p.w.Write([]byte(s)) }

func (p *fakePort) output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

type handler struct {
	mu       sync.Mutex
	events   []string
	frames   [][]byte
	mtu      int
	passkey  uint32
	requests int
}

func (h *handler) record(e string) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

func (h *handler) OnLinkUp()                { h.record("up") }
func (h *handler) OnLinkDown(reason string) { h.record("down") }
func (h *handler) OnTransferUnitNegotiated(mtu int) {
	h.mu.Lock()
	h.mtu = mtu
	h.mu.Unlock()
	h.record("mtu")
}
func (h *handler) OnDataReceived(data []byte) {
	h.mu.Lock()
	h.frames = append(h.frames, data)
	h.mu.Unlock()
}
func (h *handler) Credential() uint32 { return h.passkey }
func (h *handler) OnCredentialRequested() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests++
	return h.passkey
}
func (h *handler) OnCredentialConfirm(uint32) bool { return true }
func (h *handler) OnAuthenticationResult(bool)     {}

func (h *handler) snapshot() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...), len(h.frames)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestLink(t *testing.T) (*Link, *fakePort, *handler) {
	t.Helper()
	port := newFakePort()
	l := newLink(port, Options{Port: "test", DeviceName: "Node"}, nil)
	h := &handler{passkey: 42}
	l.Bind(h)
	t.Cleanup(func() { _ = l.Close() })
	return l, port, h
}

func TestStartService_ProgramsModuleOnce(t *testing.T) {
	l, port, h := newTestLink(t)

	if err := l.StartService(); err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	if err := l.StartService(); err != nil {
		t.Fatalf("second StartService() error = %v", err)
	}

	want := "AT+NAMENode\r\nAT+PASS000042\r\nAT+TYPE2\r\nAT+NOTI1\r\n"
	if got := port.output(); got != want {
		t.Errorf("module commands = %q, want %q", got, want)
	}
	if h.requests != 0 {
		t.Errorf("credential exchange started %d times while programming the module", h.requests)
	}
}

func TestStartService_LeavesPairingIdle(t *testing.T) {
	port := newFakePort()
	l := newLink(port, Options{Port: "test", DeviceName: "Node"}, nil)
	t.Cleanup(func() { _ = l.Close() })

	cfg := transport.DefaultConfig()
	cfg.Credential = 135790
	tr, err := transport.New(cfg, l, nil, nil)
	if err != nil {
		t.Fatalf("transport.New() error = %v", err)
	}
	l.Bind(tr)

	if err := l.StartService(); err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	if !strings.Contains(port.output(), "AT+PASS135790\r\n") {
		t.Errorf("module commands = %q, want configured passkey", port.output())
	}
	if got := tr.PairingStatus(); got != pairing.StatusIdle {
		t.Errorf("PairingStatus() = %v after StartService, want IDLE", got)
	}
}

func TestAdvertising(t *testing.T) {
	l, port, _ := newTestLink(t)

	if err := l.StartAdvertising(); !errors.Is(err, protocol.ErrAdapterClosed) {
		t.Errorf("StartAdvertising before service error = %v", err)
	}
	if err := l.StartService(); err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	if err := l.StartAdvertising(); err != nil {
		t.Fatalf("StartAdvertising() error = %v", err)
	}
	if err := l.StopAdvertising(); err != nil {
		t.Fatalf("StopAdvertising() error = %v", err)
	}
	if err := l.StopAdvertising(); err != nil {
		t.Fatalf("second StopAdvertising() error = %v", err)
	}

	out := port.output()
	if !strings.Contains(out, "AT+ADTY0\r\n") || strings.Count(out, "AT+ADTY3\r\n") != 1 {
		t.Errorf("module commands = %q", out)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	l, port, h := newTestLink(t)
	if err := l.StartService(); err != nil {
		t.Fatalf("StartService() error = %v", err)
	}

	if err := l.SendNotification([]byte{1}); !errors.Is(err, protocol.ErrNotConnected) {
		t.Errorf("SendNotification without peer error = %v", err)
	}

	port.module("OK+CONN\r\n")
	waitFor(t, func() bool { return l.ConnectedPeerCount() == 1 })

	events, _ := h.snapshot()
	if len(events) != 2 || events[0] != "up" || events[1] != "mtu" || h.mtu != protocol.DEFAULT_ATT_MTU {
		t.Errorf("events = %v mtu = %d", events, h.mtu)
	}

	port.module("<\x02\x00\xAB\xCD")
	waitFor(t, func() bool { _, n := h.snapshot(); return n == 1 })
	if !bytes.Equal(h.frames[0], []byte{0xAB, 0xCD}) {
		t.Errorf("frame = %X", h.frames[0])
	}

	if err := l.SendNotification([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("SendNotification() error = %v", err)
	}
	if !strings.HasSuffix(port.output(), ">\x03\x00\x01\x02\x03") {
		t.Errorf("outbound stream = %q", port.output())
	}

	if err := l.DisconnectPeer(); err != nil {
		t.Fatalf("DisconnectPeer() error = %v", err)
	}
	if !strings.HasSuffix(port.output(), "AT\r\n") {
		t.Errorf("disconnect command missing: %q", port.output())
	}

	port.module("OK+LOST\r\n")
	waitFor(t, func() bool { return l.ConnectedPeerCount() == 0 })
	events, _ = h.snapshot()
	if events[len(events)-1] != "down" {
		t.Errorf("events = %v", events)
	}
}

func TestInboundIgnoredWithoutPeer(t *testing.T) {
	l, port, h := newTestLink(t)
	if err := l.StartService(); err != nil {
		t.Fatalf("StartService() error = %v", err)
	}

	port.module("<\x01\x00\x01")
	port.module("OK+CONN\r\n")
	waitFor(t, func() bool { return l.ConnectedPeerCount() == 1 })

	if _, n := h.snapshot(); n != 0 {
		t.Errorf("received %d frames before connect", n)
	}
}

func TestClose_ReportsLinkDown(t *testing.T) {
	port := newFakePort()
	l := newLink(port, Options{}, nil)
	h := &handler{}
	l.Bind(h)

	port.module("OK+CONN\r\n")
	waitFor(t, func() bool { return l.ConnectedPeerCount() == 1 })

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if l.ConnectedPeerCount() != 0 {
		t.Error("peer attached after Close")
	}
	if err := l.ResetStack(); !errors.Is(err, protocol.ErrAdapterClosed) {
		t.Errorf("ResetStack after Close error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
