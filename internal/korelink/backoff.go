package korelink

import (
	"math"
	"sync"
	"time"
)

// ReconnectPolicy holds the parameters of the exponential-backoff-with-
// jitter reconnect algorithm.
type ReconnectPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Backoff float64
	JitterP float64
}

// DefaultReconnectPolicy matches the original's documented defaults.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
		Backoff: 2.0,
		JitterP: 0.2,
	}
}

// xorshift is a lightweight, non-cryptographic PRNG seeded once per
// reconnect state machine, used only to jitter reconnect delays.
type xorshift struct {
	mu    sync.Mutex
	state uint64
}

func newXorshift(seed int64) *xorshift {
	s := uint64(seed)
	if s == 0 {
		s = 1
	}
	return &xorshift{state: s}
}

// float01 returns a value in [0, 1).
func (x *xorshift) float01() float64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state ^= x.state << 13
	x.state ^= x.state >> 7
	x.state ^= x.state << 17
	return float64(x.state%1_000_000) / 1_000_000
}

// reconnectState tracks the round-robin port cursor and backoff progress
// for one link instance.
type reconnectState struct {
	policy ReconnectPolicy
	rng    *xorshift

	ports     []int
	portIndex int

	currentDelay time.Duration
	attempt      int
}

func newReconnectState(policy ReconnectPolicy, ports []int, seed int64) *reconnectState {
	return &reconnectState{policy: policy, rng: newXorshift(seed), ports: ports}
}

// currentPort returns the candidate port the next connect attempt should
// use.
func (r *reconnectState) currentPort() int {
	if len(r.ports) == 0 {
		return 0
	}
	return r.ports[r.portIndex%len(r.ports)]
}

// onConnected resets backoff state after a successful connection.
func (r *reconnectState) onConnected() {
	r.attempt = 0
	r.currentDelay = r.policy.Initial
}

// scheduleReconnect advances the port cursor and computes the next delay
// per the documented algorithm, returning it.
func (r *reconnectState) scheduleReconnect() time.Duration {
	if len(r.ports) > 0 {
		r.portIndex = (r.portIndex + 1) % len(r.ports)
	}

	var next time.Duration
	if r.attempt == 0 {
		next = r.policy.Initial
	} else {
		next = time.Duration(math.Round(float64(r.currentDelay) * r.policy.Backoff))
		if next > r.policy.Max {
			next = r.policy.Max
		}
	}
	if r.policy.JitterP > 0 {
		factor := 1 - r.policy.JitterP + r.rng.float01()*2*r.policy.JitterP
		next = time.Duration(float64(next) * factor)
	}
	r.currentDelay = next
	r.attempt++
	return next
}
