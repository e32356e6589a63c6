// Package inject implements the controller-originated injection queue:
// byte sequences handed to it are serialized into the SEND trampoline with
// backoff/retry, preserving enqueue order.
package inject

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/arkanrelay/internal/hexlog"
	"github.com/ehrlich-b/arkanrelay/internal/logger"
)

const (
	// MaxAttempts bounds how many times a message is retried before it is
	// dropped.
	MaxAttempts = 5
	// BackoffBase is the per-attempt backoff multiplier: delay = base *
	// attempts.
	BackoffBase = 200 * time.Millisecond
	// DrainBatchMax bounds how many messages a single drain pass considers.
	DrainBatchMax = 64
)

// Message is a controller-originated byte sequence awaiting delivery.
type Message struct {
	ID              string
	Bytes           []byte
	AppendChecksum  bool
	Attempts        int
	EarliestNextTry time.Time
}

// Sender is the SEND-path entry point the queue drains into. A
// *trampoline.Trampoline satisfies this.
type Sender interface {
	HasOriginals() bool
	InjectSend(socket uintptr, logical []byte, appendChecksum bool) (int32, error)
}

// SocketSource reports the last socket either trampoline has observed.
// A *protocol.State satisfies this.
type SocketSource interface {
	LastSocket() uintptr
	InvalidateSocket()
}

// InvalidSocket mirrors protocol.InvalidSocket without importing the
// package, to keep inject decoupled from protocol's internals.
const InvalidSocket = ^uintptr(0)

// Queue is a mutex-guarded FIFO of pending injection messages.
type Queue struct {
	mu      sync.Mutex
	pending *list.List // of *Message

	sender  Sender
	sockets SocketSource
}

// New returns an empty queue bound to a sender and socket source.
func New(sender Sender, sockets SocketSource) *Queue {
	return &Queue{pending: list.New(), sender: sender, sockets: sockets}
}

// TryInjectSend enqueues bytes for delivery and drains immediately. It
// returns true if a target socket is currently known (the message may
// still be queued behind others); false means "not ready yet" but the
// message remains enqueued for a later NotifySocket-triggered drain.
func (q *Queue) TryInjectSend(bytes []byte, appendChecksum bool) bool {
	msg := &Message{
		ID:             uuid.NewString(),
		Bytes:          append([]byte(nil), bytes...),
		AppendChecksum: appendChecksum,
	}
	q.mu.Lock()
	q.pending.PushBack(msg)
	q.mu.Unlock()

	q.Drain()
	return q.sockets.LastSocket() != InvalidSocket
}

// NotifySocket is called by the trampoline on every SEND/RECV entry; it
// triggers a drain so newly-live sockets unblock queued messages promptly.
func (q *Queue) NotifySocket(uintptr) {
	q.Drain()
}

// Drain snapshots the current socket and attempts delivery of up to
// DrainBatchMax due messages in FIFO order.
func (q *Queue) Drain() {
	socket := q.sockets.LastSocket()
	if socket == InvalidSocket {
		return
	}

	now := time.Now()
	for i := 0; i < DrainBatchMax; i++ {
		msg, ok := q.popDue(now)
		if !ok {
			return
		}
		if !q.sender.HasOriginals() {
			q.pushFront(msg)
			return
		}
		q.attempt(socket, msg)
	}
}

func (q *Queue) popDue(now time.Time) (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.pending.Front()
	if front == nil {
		return nil, false
	}
	msg := front.Value.(*Message)
	if msg.EarliestNextTry.After(now) {
		return nil, false
	}
	q.pending.Remove(front)
	return msg, true
}

func (q *Queue) pushFront(msg *Message) {
	q.mu.Lock()
	q.pending.PushFront(msg)
	q.mu.Unlock()
}

func (q *Queue) requeueWithBackoff(msg *Message) {
	msg.Attempts++
	if msg.Attempts > MaxAttempts {
		logger.App.Warn("injection dropped after retry exhaustion", "id", msg.ID, "attempts", msg.Attempts)
		return
	}
	msg.EarliestNextTry = time.Now().Add(BackoffBase * time.Duration(msg.Attempts))
	q.mu.Lock()
	q.pending.PushBack(msg)
	q.mu.Unlock()
	logger.App.Info("injection requeued", "id", msg.ID, "attempts", msg.Attempts, "delay", BackoffBase*time.Duration(msg.Attempts))
}

func (q *Queue) attempt(socket uintptr, msg *Message) {
	wireLen := len(msg.Bytes)
	if msg.AppendChecksum {
		wireLen++
	}
	n, err := q.sender.InjectSend(socket, msg.Bytes, msg.AppendChecksum)
	switch {
	case err != nil:
		q.sockets.InvalidateSocket()
		q.requeueWithBackoff(msg)
	case int(n) == wireLen:
		logger.App.Debug("injection delivered", "id", msg.ID, "bytes", hexlog.Dump(msg.Bytes, 32))
	default:
		q.requeueWithBackoff(msg)
	}
}

// InjectRecv routes receive-path injection through the SEND path, matching
// the absence of a native receive-injection mechanism (see DESIGN.md Open
// Question 2). It logs the limitation and otherwise behaves like
// TryInjectSend.
func (q *Queue) InjectRecv(bytes []byte) bool {
	logger.App.Warn("recv-path injection routed through send path", "bytes", hexlog.Dump(bytes, 32))
	return q.TryInjectSend(bytes, false)
}
