//go:build windows

// Package checksum wraps the two opaque seed/checksum leaf routines the
// bridge is configured with, adding once-only PRNG seeding, the extra-byte
// derivation used to pad the first transformed SEND, and fault isolation
// around each leaf call.
package checksum

import (
	"math/rand"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/ehrlich-b/arkanrelay/internal/logger"
)

// leafCaller invokes an opaque native routine by address. Production code
// uses syscallLeafCaller; tests substitute a fake.
type leafCaller interface {
	seed(addr uintptr, data []byte) (val uint64, ok bool)
	checksum(addr uintptr, data []byte, counter uint32, seed64 uint64) (val byte, ok bool)
}

// Service implements the SEND-side protocol auxiliary over two leaf
// routine addresses.
type Service struct {
	seedAddr     uintptr
	checksumAddr uintptr
	caller       leafCaller

	once sync.Once
	rng  *rand.Rand
	mu   sync.Mutex
}

// New returns a Service bound to the given leaf addresses.
func New(seedAddr, checksumAddr uintptr) *Service {
	return &Service{seedAddr: seedAddr, checksumAddr: checksumAddr, caller: syscallLeafCaller{}}
}

func (s *Service) ensureSeeded() {
	s.once.Do(func() {
		mix := time.Now().UnixNano() ^ int64(os.Getpid())<<32 ^ int64(time.Now().Unix())
		s.rng = rand.New(rand.NewSource(mix))
	})
}

// Seed lazily seeds the process-wide PRNG, draws the random extra byte,
// invokes the leaf seed routine over data‖extra, stores the resulting
// seed halves via store, and returns extra — the byte the caller appends
// to the wire payload. On leaf fault it stores zeroed halves, returns 0,
// and logs a diagnostic.
func (s *Service) Seed(data []byte, store func(high, low uint32)) (extra byte) {
	s.ensureSeeded()

	s.mu.Lock()
	r := byte(s.rng.Intn(256))
	s.mu.Unlock()
	extra = r - 128

	payload := make([]byte, len(data)+1)
	copy(payload, data)
	payload[len(data)] = extra

	val, ok := s.callSeed(payload)
	if !ok {
		store(0, 0)
		return 0
	}
	high := uint32(val >> 32)
	low := uint32(val & 0xFFFFFFFF)
	store(high, low)
	return extra
}

func (s *Service) callSeed(payload []byte) (val uint64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.App.Error("seed leaf fault", "recover", r)
			val, ok = 0, false
		}
	}()
	return s.caller.seed(s.seedAddr, payload)
}

// Checksum recomposes seed64 from high/low and invokes the leaf checksum
// routine. On fault it returns 0 and logs a diagnostic.
func (s *Service) Checksum(data []byte, counter uint32, high, low uint32) byte {
	seed64 := uint64(high)<<32 | uint64(low)
	val, ok := s.callChecksum(data, counter, seed64)
	if !ok {
		return 0
	}
	return val
}

func (s *Service) callChecksum(data []byte, counter uint32, seed64 uint64) (val byte, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.App.Error("checksum leaf fault", "recover", r)
			val, ok = 0, false
		}
	}()
	return s.caller.checksum(s.checksumAddr, data, counter, seed64)
}

// syscallLeafCaller reaches the leaf routines by raw address via
// syscall.SyscallN — the idiomatic Go substitute for calling through a
// function pointer resolved at runtime. There is no Go-level equivalent of
// a structured-exception handler that can resume after a genuine access
// violation inside foreign code; recover() in callSeed/callChecksum covers
// Go-side faults (e.g. an unmapped payload pointer) raised while marshaling
// the call, which is the substitution the bridge is allowed to make for a
// vectored handler it does not otherwise have a library for.
type syscallLeafCaller struct{}

func (syscallLeafCaller) seed(addr uintptr, data []byte) (uint64, bool) {
	if len(data) == 0 {
		return 0, false
	}
	r1, _, _ := callN(addr, uintptr(unsafe.Pointer(&data[0])), uintptr(len(data)))
	return uint64(r1), true
}

func (syscallLeafCaller) checksum(addr uintptr, data []byte, counter uint32, seed64 uint64) (byte, bool) {
	if len(data) == 0 {
		return 0, false
	}
	r1, _, _ := callN(addr, uintptr(unsafe.Pointer(&data[0])), uintptr(len(data)), uintptr(counter), uintptr(seed64))
	return byte(r1), true
}
