//go:build windows

package trampoline

import (
	"syscall"
	"testing"

	"github.com/ehrlich-b/arkanrelay/internal/protocol"
)

type fakeChecksum struct {
	seedReturn     byte
	checksumReturn byte
	lastStoreHigh  uint32
	lastStoreLow   uint32
}

func (f *fakeChecksum) Seed(data []byte, store func(high, low uint32)) byte {
	store(0xAAAA, 0xBBBB)
	return f.seedReturn
}

func (f *fakeChecksum) Checksum(data []byte, counter uint32, high, low uint32) byte {
	f.lastStoreHigh, f.lastStoreLow = high, low
	return f.checksumReturn
}

type fakeObserver struct {
	sends    [][]byte
	recvs    [][]byte
	sockets  []uintptr
}

func (f *fakeObserver) EmitSend(data []byte)      { f.sends = append(f.sends, data) }
func (f *fakeObserver) EmitRecv(data []byte)      { f.recvs = append(f.recvs, data) }
func (f *fakeObserver) NotifySocket(s uintptr)    { f.sockets = append(f.sockets, s) }

// newTestTrampoline builds a Trampoline whose callOriginal is stubbed so no
// real syscall is made; the stub echoes the buffer length as bytes written.
func newTestTrampoline(cs *fakeChecksum, originalRecvBuf []byte, originalErrno syscall.Errno) (*Trampoline, *fakeObserver) {
	state := protocol.NewState()
	tr := New(state, cs)
	obs := &fakeObserver{}
	tr.SetObserver(obs)
	tr.SetOriginals(1, 2) // non-zero placeholders; never dereferenced by the stub

	tr.callOriginal = func(addr uintptr, socket uintptr, buf []byte, flags int32) (int32, syscall.Errno) {
		if addr == tr.originalRecv {
			n := copy(buf, originalRecvBuf)
			return int32(n), originalErrno
		}
		return int32(len(buf)), originalErrno
	}
	return tr, obs
}

// Scenario 1 from the protocol spec: a SEND buffer starting with the marker
// opcode arms found_marker and, since it's at least 2 bytes, the transform
// drops the last byte and appends a seed byte computed over the marker.
func TestSendMarkerFirstCallAppendsSeedByte(t *testing.T) {
	cs := &fakeChecksum{seedReturn: 0x77}
	tr, obs := newTestTrampoline(cs, nil, 0)

	n, err := tr.Send(10, []byte{0x1C, 0x0B, 0x00}, 0)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != 3 {
		t.Fatalf("n = %d, want 3 (transformed buffer length echoed back)", n)
	}
	if len(obs.sends) != 1 {
		t.Fatalf("EmitSend calls = %d, want 1", len(obs.sends))
	}
	got := obs.sends[0]
	want := []byte{0x1C, 0x0B, 0x77}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("transformed send = %v, want %v", got, want)
	}
}

func TestSendWithoutMarkerPassesThroughUnchanged(t *testing.T) {
	cs := &fakeChecksum{}
	tr, obs := newTestTrampoline(cs, nil, 0)

	_, err := tr.Send(10, []byte{0x01, 0x02, 0x03}, 0)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := obs.sends[0]
	want := []byte{0x01, 0x02, 0x03}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("send = %v, want unchanged %v", got, want)
		}
	}
}

func TestInjectSendSuppressesObserverEmit(t *testing.T) {
	cs := &fakeChecksum{}
	tr, obs := newTestTrampoline(cs, nil, 0)

	_, err := tr.InjectSend(10, []byte{0x01, 0x02}, true)
	if err != nil {
		t.Fatalf("InjectSend: %v", err)
	}
	if len(obs.sends) != 0 {
		t.Fatalf("EmitSend calls = %d, want 0 (suppressed)", len(obs.sends))
	}
}

func TestInjectSendAppendsPlaceholderChecksumByte(t *testing.T) {
	cs := &fakeChecksum{}
	tr, _ := newTestTrampoline(cs, nil, 0)

	var sent []byte
	tr.callOriginal = func(addr uintptr, socket uintptr, buf []byte, flags int32) (int32, syscall.Errno) {
		sent = append([]byte(nil), buf...)
		return int32(len(buf)), 0
	}

	if _, err := tr.InjectSend(10, []byte{0x01, 0x02}, true); err != nil {
		t.Fatalf("InjectSend: %v", err)
	}
	if len(sent) == 0 || sent[len(sent)-1] != injectedChecksumByte {
		t.Fatalf("sent = %v, want trailing placeholder byte %#x", sent, injectedChecksumByte)
	}
}

func TestRecvDropsOnHeadC70BThenSurfacesNextBuffer(t *testing.T) {
	cs := &fakeChecksum{}
	state := protocol.NewState()
	tr := New(state, cs)
	obs := &fakeObserver{}
	tr.SetObserver(obs)
	tr.SetOriginals(1, 2)

	calls := 0
	buffers := [][]byte{
		{0xC7, 0x0B}, // dropped
		{0x01, 0x02}, // surfaced
	}
	tr.callOriginal = func(addr uintptr, socket uintptr, buf []byte, flags int32) (int32, syscall.Errno) {
		n := copy(buf, buffers[calls])
		calls++
		return int32(n), 0
	}

	out, n, err := tr.Recv(5, 16, 0)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if calls != 2 {
		t.Fatalf("callOriginal invocations = %d, want 2 (one dropped, one surfaced)", calls)
	}
	if n != 2 || len(out) != 2 || out[0] != 0x01 || out[1] != 0x02 {
		t.Fatalf("Recv returned (%v, %d), want ([1 2], 2)", out, n)
	}
	if len(obs.recvs) != 1 {
		t.Fatalf("EmitRecv calls = %d, want 1", len(obs.recvs))
	}
}

// TestRecvDropOnHeadC70BResetsCounterAndMarker matches the original
// trampoline's drop loop, which resets counter+marker on every C7 0B
// iteration (Trampolines.cpp), unlike protocol.OnRecv alone which only
// reports drop=true.
func TestRecvDropOnHeadC70BResetsCounterAndMarker(t *testing.T) {
	cs := &fakeChecksum{}
	state := protocol.NewState()
	state.CheckSession(5) // same socket as the Recv below, so its session check does not reset
	state.SetFoundMarker(true)
	for i := 0; i < 7; i++ {
		state.AdvanceCounter()
	}
	tr := New(state, cs)
	obs := &fakeObserver{}
	tr.SetObserver(obs)
	tr.SetOriginals(1, 2)

	calls := 0
	buffers := [][]byte{
		{0xC7, 0x0B}, // dropped; must reset counter+marker before the next read
		{0x01, 0x02}, // surfaced
	}
	tr.callOriginal = func(addr uintptr, socket uintptr, buf []byte, flags int32) (int32, syscall.Errno) {
		n := copy(buf, buffers[calls])
		calls++
		return int32(n), 0
	}

	if _, _, err := tr.Recv(5, 16, 0); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if state.Counter() != 0 {
		t.Fatalf("counter = %d, want 0 after C7 0B drop", state.Counter())
	}
	if state.FoundMarker() {
		t.Fatal("expected marker cleared after C7 0B drop")
	}
}

func TestRecvBrokenConnectionResetsState(t *testing.T) {
	cs := &fakeChecksum{}
	tr, _ := newTestTrampoline(cs, nil, syscall.Errno(10054)) // WSAECONNRESET
	tr.callOriginal = func(addr uintptr, socket uintptr, buf []byte, flags int32) (int32, syscall.Errno) {
		return 0, syscall.Errno(10054)
	}

	tr.state.CheckSession(5) // same socket as the Recv below, so its session check does not reset
	for i := 0; i < 5; i++ {
		tr.state.AdvanceCounter()
	}
	_, n, err := tr.Recv(5, 16, 0)
	if n != 0 || err == nil {
		t.Fatalf("Recv = (%d, %v), want (0, non-nil error)", n, err)
	}
	if tr.state.LastSocket() != protocol.InvalidSocket {
		t.Fatal("expected LastSocket to be invalidated after a broken-connection errno")
	}
	if tr.state.Counter() != 0 {
		t.Fatal("expected state reset after a broken-connection errno")
	}
}
