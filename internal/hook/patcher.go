//go:build windows

// Package hook implements the slot-patch engine: waiting for a
// function-pointer slot to become non-null, swapping in a replacement, and
// a watchdog that re-asserts ownership against third-party interference.
package hook

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/ehrlich-b/arkanrelay/internal/hexlog"
	"github.com/ehrlich-b/arkanrelay/internal/logger"
	"github.com/ehrlich-b/arkanrelay/internal/memaccess"
)

// Default install budget: the loader may repeatedly rewrite a slot during
// process startup, so installation polls rather than patching once.
const (
	DefaultTotalTimeout = 60 * time.Second
	DefaultPollStep     = 50 * time.Millisecond
)

// ErrPatchTimeout is returned when wait-and-patch exhausts its budget
// without observing a stable, verified replacement.
var ErrPatchTimeout = errors.New("hook: patch timed out waiting for slot")

// ErrZeroSlot is a configuration error: a slot address of zero cannot be
// patched.
var ErrZeroSlot = errors.New("hook: slot address is zero")

// WaitAndPatch polls slot until it holds a non-null value, then atomically
// captures the current value and writes replacement, verifying the write
// by re-reading. It retries (the loader may rewrite the slot mid-poll)
// until totalTimeout elapses.
func WaitAndPatch(slot uintptr, replacement uintptr, totalTimeout, pollStep time.Duration) (original uintptr, err error) {
	if slot == 0 {
		return 0, ErrZeroSlot
	}
	deadline := time.Now().Add(totalTimeout)
	for {
		cur := memaccess.ReadUintptr(slot)
		if cur != 0 {
			guard, gerr := memaccess.BeginScopedWrite(slot, unsafePointerSize)
			if gerr == nil {
				memaccess.WriteUintptr(slot, replacement)
				verify := memaccess.ReadUintptr(slot)
				guard.Close()
				if verify == replacement {
					logger.App.Info("slot patched", "slot", hexlog.Ptr(slot), "original", hexlog.Ptr(cur))
					return cur, nil
				}
			} else {
				logger.App.Warn("scoped write failed during patch", "slot", hexlog.Ptr(slot), "err", gerr)
			}
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: slot 0x%x", ErrPatchTimeout, slot)
		}
		time.Sleep(pollStep)
	}
}

// Force unconditionally writes value into slot within a scoped-write,
// regardless of the slot's current contents. Used by the watchdog and by
// uninstall.
func Force(slot uintptr, value uintptr) error {
	if slot == 0 {
		return ErrZeroSlot
	}
	guard, err := memaccess.BeginScopedWrite(slot, unsafePointerSize)
	if err != nil {
		return fmt.Errorf("force 0x%x: %w", slot, err)
	}
	defer guard.Close()
	memaccess.WriteUintptr(slot, value)
	return nil
}

var unsafePointerSize = unsafe.Sizeof(uintptr(0))
