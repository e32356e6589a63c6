//go:build windows

// Package trampoline implements the SEND/RECV interception logic installed
// into the host's function-pointer slots: per-call session detection, the
// SEND seed/checksum transform, and the RECV drop loop.
package trampoline

import (
	"sync"
	"syscall"

	"github.com/ehrlich-b/arkanrelay/internal/hexlog"
	"github.com/ehrlich-b/arkanrelay/internal/logger"
	"github.com/ehrlich-b/arkanrelay/internal/protocol"
)

// maxRecvDrops bounds the RECV drop loop (§4.5's head_c70b rule) so a
// pathological stream of drop-triggering buffers cannot hang the call.
const maxRecvDrops = 8

// injectedChecksumByte is appended to controller-injected sends whenever the
// caller requests append_checksum. If the SEND transform is live (marker
// observed) it replaces this trailing byte with a computed one; otherwise
// the byte goes out literally.
const injectedChecksumByte = 0x69

// connBrokenErrnos are the WSA error codes treated as a broken connection:
// state resets and last_socket is invalidated so the next call on any
// socket starts a fresh session.
var connBrokenErrnos = map[syscall.Errno]bool{
	10053: true, // WSAECONNABORTED
	10054: true, // WSAECONNRESET
	10057: true, // WSAENOTCONN
	10058: true, // WSAESHUTDOWN
}

// Observer receives trampoline events. The bridge service implements this
// to forward SEND/RECV activity to the Kore link and to the injection
// queue's socket-awareness.
type Observer interface {
	EmitSend(data []byte)
	EmitRecv(data []byte)
	NotifySocket(socket uintptr)
}

// checksumService is the seed/checksum auxiliary the SEND transform calls
// into. *checksum.Service satisfies it; tests substitute a fake so the
// transform can be exercised without a live leaf routine address.
type checksumService interface {
	Seed(data []byte, store func(high, low uint32)) byte
	Checksum(data []byte, counter uint32, high, low uint32) byte
}

// Trampoline holds the captured original function pointers and shared
// protocol state for one installed hook. Exactly one exists per process.
type Trampoline struct {
	state    *protocol.State
	checksum checksumService
	observer Observer

	sendMu sync.Mutex

	originalSend uintptr
	originalRecv uintptr

	// callOriginal is a seam over the package-level syscall invocation so
	// tests can substitute a fake original send/recv without a live
	// process; production code leaves it at its New-time default.
	callOriginal func(addr uintptr, socket uintptr, buf []byte, flags int32) (int32, syscall.Errno)
}

type noopObserver struct{}

func (noopObserver) EmitSend([]byte)      {}
func (noopObserver) EmitRecv([]byte)      {}
func (noopObserver) NotifySocket(uintptr) {}

// New returns a Trampoline bound to state and a checksum service. Observer
// defaults to a no-op until SetObserver is called (the bridge wires itself
// in after construction, since it also depends on the trampoline).
// Originals are set separately once the slot patcher captures them.
func New(state *protocol.State, svc checksumService) *Trampoline {
	return &Trampoline{state: state, checksum: svc, observer: noopObserver{}, callOriginal: callOriginal}
}

// SetObserver replaces the trampoline's observer.
func (t *Trampoline) SetObserver(observer Observer) {
	t.observer = observer
}

// SetOriginals stores the captured original SEND/RECV function pointers.
// Called once by the slot patcher after a successful install.
func (t *Trampoline) SetOriginals(originalSend, originalRecv uintptr) {
	t.originalSend = originalSend
	t.originalRecv = originalRecv
}

// HasOriginals reports whether the slot patcher has captured both
// originals yet — the injection queue checks this before draining.
func (t *Trampoline) HasOriginals() bool {
	return t.originalSend != 0 && t.originalRecv != 0
}

// callOriginal invokes a captured WSAAPI-convention send/recv function
// pointer and classifies the result.
func callOriginal(addr uintptr, socket uintptr, buf []byte, flags int32) (n int32, errno syscall.Errno) {
	var bufPtr uintptr
	if len(buf) > 0 {
		bufPtr = uintptrOf(&buf[0])
	}
	r1, _, e := syscall.SyscallN(addr, socket, bufPtr, uintptr(len(buf)), uintptr(uint32(flags)))
	return int32(r1), e
}

// Send runs the full SEND path: session check, rule application, the
// seed/checksum transform, observer emission, and pass-through. socket is
// whatever socket identifier the host passed; buf is copied before any
// mutation. Injection-originated calls go through this same entry point so
// their writes interleave with client sends at call granularity.
func (t *Trampoline) Send(socket uintptr, buf []byte, flags int32) (int32, error) {
	t.state.CheckSession(socket)
	t.observer.NotifySocket(socket)

	t.sendMu.Lock()
	out := t.transformSend(buf)
	suppressed := t.state.ConsumeSuppressNextEmit()
	if !suppressed {
		t.observer.EmitSend(out)
	}
	n, errno := t.callOriginal(t.originalSend, socket, out, flags)
	t.sendMu.Unlock()

	if n <= 0 && connBrokenErrnos[errno] {
		t.state.Reset()
		t.state.InvalidateSocket()
	}
	if errno != 0 {
		return n, errno
	}
	return n, nil
}

// transformSend applies the SEND rule table and, when the marker is live,
// the seed/checksum byte. Must be called with sendMu held.
func (t *Trampoline) transformSend(buf []byte) []byte {
	d := append([]byte(nil), buf...)
	protocol.OnSendHead(t.state, d)

	if !t.state.FoundMarker() || len(d) < 2 {
		return d
	}

	d = d[:len(d)-1]
	var subject []byte
	if len(d) >= 2 && d[0] == protocol.OpMarker[0] && d[1] == protocol.OpMarker[1] {
		subject = d[:2]
	} else {
		subject = d
	}

	counter := t.state.Counter()
	var appended byte
	if counter == 0 {
		appended = t.checksum.Seed(subject, t.state.SetSeedHalves)
	} else {
		high, low := t.state.SeedHalves()
		appended = t.checksum.Checksum(subject, counter, high, low)
	}
	t.state.AdvanceCounter()
	d = append(d, appended)
	logger.Sock.Debug("send transform", "counter", counter, "out", hexlog.Dump(d, 32))
	return d
}

// InjectSend runs an injection-originated send through the same path as a
// client send, arming the suppression latch first so it is not re-observed.
func (t *Trampoline) InjectSend(socket uintptr, logical []byte, appendChecksum bool) (int32, error) {
	buf := logical
	if appendChecksum {
		buf = append(append([]byte(nil), logical...), injectedChecksumByte)
	}
	t.state.SetSuppressNextEmit(true)
	return t.Send(socket, buf, 0)
}

// Recv runs the full RECV path: pass-through to the original, scan/apply
// rules, and the bounded drop loop.
func (t *Trampoline) Recv(socket uintptr, bufLen int, flags int32) ([]byte, int32, error) {
	t.state.CheckSession(socket)
	t.observer.NotifySocket(socket)

	for attempt := 0; attempt < maxRecvDrops; attempt++ {
		buf := make([]byte, bufLen)
		n, errno := t.callOriginal(t.originalRecv, socket, buf, flags)
		if n <= 0 {
			if connBrokenErrnos[errno] {
				t.state.Reset()
				t.state.InvalidateSocket()
			}
			if errno != 0 {
				return nil, n, errno
			}
			return nil, n, nil
		}
		buf = buf[:n]
		result := protocol.Scan(buf)
		drop := protocol.OnRecv(t.state, result)
		if !drop {
			t.observer.EmitRecv(buf)
			return buf, n, nil
		}
		// The C7 0B head additionally resets counter+marker on every drop
		// iteration, not just the found-trigger resets OnRecv already
		// applies — see protocol.OnRecv's doc comment for why this lives
		// here instead of in the rule table.
		t.state.ResetCounterAndMarker()
		logger.Sock.Debug("recv drop", "attempt", attempt, "buf", hexlog.Dump(buf, 32))
	}
	logger.App.Warn("recv drop loop exhausted", "max", maxRecvDrops)
	return nil, 0, nil
}
