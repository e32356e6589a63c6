package bridge

import (
	"context"
	"sync"
	"testing"

	"github.com/ehrlich-b/arkanrelay/internal/korelink"
)

type fakeHook struct {
	mu                 sync.Mutex
	installed, failure error
	uninstallCalls     int
}

func (f *fakeHook) Install() error {
	return f.failure
}

func (f *fakeHook) Uninstall() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstallCalls++
}

type fakeLink struct {
	mu      sync.Mutex
	frames  []struct {
		kind    byte
		payload []byte
	}
	onFrame korelink.FrameHandler
	runErr  chan error
}

func newFakeLink() *fakeLink {
	return &fakeLink{runErr: make(chan error, 1)}
}

func (f *fakeLink) Run(ctx context.Context) error {
	select {
	case err := <-f.runErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeLink) SendFrame(kind byte, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, struct {
		kind    byte
		payload []byte
	}{kind, payload})
	return nil
}

func (f *fakeLink) SetOnFrame(h korelink.FrameHandler) {
	f.onFrame = h
}

type fakeQueue struct {
	mu              sync.Mutex
	injectedSend    [][]byte
	injectedRecv    [][]byte
	notifiedSockets []uintptr
}

func (f *fakeQueue) TryInjectSend(bytes []byte, appendChecksum bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injectedSend = append(f.injectedSend, bytes)
	return true
}

func (f *fakeQueue) InjectRecv(bytes []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injectedRecv = append(f.injectedRecv, bytes)
	return true
}

func (f *fakeQueue) NotifySocket(socket uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifiedSockets = append(f.notifiedSockets, socket)
}

func TestEmitSendDoesNotForwardToKore(t *testing.T) {
	link := newFakeLink()
	b := New(&fakeHook{}, link, &fakeQueue{})
	b.EmitSend([]byte{0x01, 0x02})
	if len(link.frames) != 0 {
		t.Fatalf("expected no frames forwarded for EmitSend, got %d", len(link.frames))
	}
}

func TestEmitRecvForwardsAsRecvFrame(t *testing.T) {
	link := newFakeLink()
	b := New(&fakeHook{}, link, &fakeQueue{})
	b.EmitRecv([]byte{0xAA, 0xBB})
	if len(link.frames) != 1 {
		t.Fatalf("expected one forwarded frame, got %d", len(link.frames))
	}
	if link.frames[0].kind != korelink.KindRecv {
		t.Fatalf("kind = %x, want %x", link.frames[0].kind, korelink.KindRecv)
	}
}

func TestNotifySocketFansOutToQueue(t *testing.T) {
	queue := &fakeQueue{}
	b := New(&fakeHook{}, newFakeLink(), queue)
	b.NotifySocket(42)
	if len(queue.notifiedSockets) != 1 || queue.notifiedSockets[0] != 42 {
		t.Fatalf("notifiedSockets = %v, want [42]", queue.notifiedSockets)
	}
}

func TestOnFrameDispatchesByKind(t *testing.T) {
	queue := &fakeQueue{}
	b := New(&fakeHook{}, newFakeLink(), queue)

	b.onFrame(korelink.KindSend, []byte{0x01})
	b.onFrame(korelink.KindRecv, []byte{0x02})
	b.onFrame(korelink.KindKeepAlive, nil)

	if len(queue.injectedSend) != 1 {
		t.Fatalf("injectedSend = %d, want 1", len(queue.injectedSend))
	}
	if len(queue.injectedRecv) != 1 {
		t.Fatalf("injectedRecv = %d, want 1", len(queue.injectedRecv))
	}
	if b.KeepAliveCount() != 1 {
		t.Fatalf("KeepAliveCount = %d, want 1", b.KeepAliveCount())
	}
}

func TestStartFailsWhenHookInstallFails(t *testing.T) {
	hookErr := errBridgeTest("install failed")
	b := New(&fakeHook{failure: hookErr}, newFakeLink(), &fakeQueue{})
	if err := b.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when Install fails")
	}
}

func TestStopUninstallsHook(t *testing.T) {
	hook := &fakeHook{}
	b := New(hook, newFakeLink(), &fakeQueue{})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	b.Stop()
	hook.mu.Lock()
	calls := hook.uninstallCalls
	hook.mu.Unlock()
	if calls != 1 {
		t.Fatalf("uninstallCalls = %d, want 1", calls)
	}
}

type errBridgeTest string

func (e errBridgeTest) Error() string { return string(e) }
