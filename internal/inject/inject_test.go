package inject

import (
	"sync"
	"testing"
	"time"
)

// fakeSender records InjectSend calls and lets a test script the return
// value per call via a function hook.
type fakeSender struct {
	mu          sync.Mutex
	hasOriginal bool
	onInject    func(socket uintptr, logical []byte, appendChecksum bool) (int32, error)
	calls       int
}

func (f *fakeSender) HasOriginals() bool { return f.hasOriginal }

func (f *fakeSender) InjectSend(socket uintptr, logical []byte, appendChecksum bool) (int32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.onInject(socket, logical, appendChecksum)
}

type fakeSockets struct {
	mu     sync.Mutex
	socket uintptr
}

func newFakeSockets(socket uintptr) *fakeSockets {
	return &fakeSockets{socket: socket}
}

func (f *fakeSockets) LastSocket() uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.socket
}

func (f *fakeSockets) InvalidateSocket() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.socket = InvalidSocket
}

func TestTryInjectSendDeliversImmediatelyWhenSocketKnown(t *testing.T) {
	sender := &fakeSender{
		hasOriginal: true,
		onInject: func(socket uintptr, logical []byte, appendChecksum bool) (int32, error) {
			n := len(logical)
			if appendChecksum {
				n++
			}
			return int32(n), nil
		},
	}
	sockets := newFakeSockets(42)
	q := New(sender, sockets)

	ready := q.TryInjectSend([]byte{0x01, 0x02, 0x03}, true)
	if !ready {
		t.Fatal("expected ready=true with a known socket")
	}
	if sender.calls != 1 {
		t.Fatalf("calls = %d, want 1", sender.calls)
	}
}

func TestTryInjectSendWaitsWithoutSocket(t *testing.T) {
	sender := &fakeSender{
		hasOriginal: true,
		onInject: func(socket uintptr, logical []byte, appendChecksum bool) (int32, error) {
			t.Fatal("InjectSend must not be called with no known socket")
			return 0, nil
		},
	}
	sockets := newFakeSockets(InvalidSocket)
	q := New(sender, sockets)

	ready := q.TryInjectSend([]byte{0x01}, false)
	if ready {
		t.Fatal("expected ready=false with no known socket")
	}
}

func TestDrainWaitsForOriginalsBeforeSending(t *testing.T) {
	sender := &fakeSender{
		hasOriginal: false,
		onInject: func(socket uintptr, logical []byte, appendChecksum bool) (int32, error) {
			t.Fatal("InjectSend must not be called before originals are captured")
			return 0, nil
		},
	}
	sockets := newFakeSockets(7)
	q := New(sender, sockets)

	q.TryInjectSend([]byte{0x01}, false)
	if sender.calls != 0 {
		t.Fatalf("calls = %d, want 0 while originals are missing", sender.calls)
	}

	q.mu.Lock()
	pending := q.pending.Len()
	q.mu.Unlock()
	if pending != 1 {
		t.Fatalf("pending = %d, want 1 (message stays queued)", pending)
	}
}

// TestPartialWriteRequeuesWithBackoff matches the partial-write scenario:
// enqueue [0x01,0x02,0x03] with append_checksum=true (wire length 4), the
// sender reports a short write (n=2), and the message must requeue to the
// back with attempts=1 and a ~200ms backoff.
func TestPartialWriteRequeuesWithBackoff(t *testing.T) {
	sender := &fakeSender{
		hasOriginal: true,
		onInject: func(socket uintptr, logical []byte, appendChecksum bool) (int32, error) {
			return 2, nil // short write against a 4-byte wire buffer
		},
	}
	sockets := newFakeSockets(99)
	q := New(sender, sockets)

	before := time.Now()
	q.TryInjectSend([]byte{0x01, 0x02, 0x03}, true)

	q.mu.Lock()
	front := q.pending.Front()
	q.mu.Unlock()
	if front == nil {
		t.Fatal("expected the message to be requeued, found none pending")
	}
	msg := front.Value.(*Message)
	if msg.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", msg.Attempts)
	}
	wantEarliest := before.Add(BackoffBase)
	if msg.EarliestNextTry.Before(wantEarliest.Add(-50*time.Millisecond)) || msg.EarliestNextTry.After(wantEarliest.Add(150*time.Millisecond)) {
		t.Fatalf("EarliestNextTry = %v, want close to %v", msg.EarliestNextTry, wantEarliest)
	}
}

func TestInjectSendErrorInvalidatesSocketAndRequeues(t *testing.T) {
	sender := &fakeSender{
		hasOriginal: true,
		onInject: func(socket uintptr, logical []byte, appendChecksum bool) (int32, error) {
			return 0, errConnBroken
		},
	}
	sockets := newFakeSockets(5)
	q := New(sender, sockets)

	q.TryInjectSend([]byte{0x01}, false)

	if sockets.LastSocket() != InvalidSocket {
		t.Fatal("expected socket to be invalidated after a send error")
	}
	q.mu.Lock()
	pending := q.pending.Len()
	q.mu.Unlock()
	if pending != 1 {
		t.Fatalf("pending = %d, want 1 (message requeued)", pending)
	}
}

func TestRetryExhaustionDropsMessage(t *testing.T) {
	sender := &fakeSender{
		hasOriginal: true,
		onInject: func(socket uintptr, logical []byte, appendChecksum bool) (int32, error) {
			return 0, nil // always a short/zero write -> always requeues
		},
	}
	sockets := newFakeSockets(1)
	q := New(sender, sockets)

	msg := &Message{ID: "test", Bytes: []byte{0x01}}
	for i := 0; i < MaxAttempts+1; i++ {
		q.requeueWithBackoff(msg)
	}
	if msg.Attempts != MaxAttempts+1 {
		t.Fatalf("Attempts = %d, want %d after exhausting retries", msg.Attempts, MaxAttempts+1)
	}

	q.mu.Lock()
	pending := q.pending.Len()
	q.mu.Unlock()
	if pending != MaxAttempts {
		t.Fatalf("pending = %d, want %d (the final over-limit attempt is dropped, not requeued)", pending, MaxAttempts)
	}
}

func TestInjectRecvRoutesThroughSend(t *testing.T) {
	sender := &fakeSender{
		hasOriginal: true,
		onInject: func(socket uintptr, logical []byte, appendChecksum bool) (int32, error) {
			if appendChecksum {
				t.Fatal("InjectRecv must route with append_checksum=false")
			}
			return int32(len(logical)), nil
		},
	}
	sockets := newFakeSockets(3)
	q := New(sender, sockets)

	if !q.InjectRecv([]byte{0xAA}) {
		t.Fatal("expected InjectRecv to report ready with a known socket")
	}
}

var errConnBroken = fakeErr("connection broken")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
