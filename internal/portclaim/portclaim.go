//go:build windows

// Package portclaim guards against two injected copies of the bridge
// fighting over the same Kore endpoint, using a named kernel mutex keyed
// by host:port.
package portclaim

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// Claim is a held named-mutex single-instance guard. Release must be
// called to drop it.
type Claim struct {
	handle windows.Handle
}

// Acquire attempts to claim host:port, returning an error if another
// instance already holds it.
func Acquire(host string, port int) (*Claim, error) {
	name := fmt.Sprintf("Global\\ArkanRelay_%s_%d", host, port)
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("portclaim: encode name: %w", err)
	}
	h, err := windows.CreateMutex(nil, false, namePtr)
	if err != nil {
		return nil, fmt.Errorf("portclaim: create mutex: %w", err)
	}
	ev, err := windows.WaitForSingleObject(h, 0)
	if err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("portclaim: wait: %w", err)
	}
	if ev == uint32(windows.WAIT_TIMEOUT) {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("portclaim: %s already claimed by another instance", name)
	}
	return &Claim{handle: h}, nil
}

// Release drops the claim. Safe to call once; a second call is a no-op.
func (c *Claim) Release() {
	if c == nil || c.handle == 0 {
		return
	}
	windows.ReleaseMutex(c.handle)
	windows.CloseHandle(c.handle)
	c.handle = 0
}
