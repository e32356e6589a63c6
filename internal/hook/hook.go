//go:build windows

package hook

import (
	"fmt"
	"time"

	"github.com/ehrlich-b/arkanrelay/internal/logger"
	"github.com/ehrlich-b/arkanrelay/internal/trampoline"
)

// Hook owns the installed SEND/RECV slot patches and their watchdog.
type Hook struct {
	sendSlot uintptr
	recvSlot uintptr
	tramp    *trampoline.Trampoline

	totalTimeout time.Duration
	pollStep     time.Duration
	pollInterval time.Duration

	watchdog *Watchdog

	originalSend uintptr
	originalRecv uintptr
}

// New returns a Hook for the given slot addresses and trampoline. Zero
// durations fall back to the package defaults.
func New(sendSlot, recvSlot uintptr, tramp *trampoline.Trampoline, totalTimeout, pollStep, pollInterval time.Duration) *Hook {
	if totalTimeout <= 0 {
		totalTimeout = DefaultTotalTimeout
	}
	if pollStep <= 0 {
		pollStep = DefaultPollStep
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Hook{
		sendSlot: sendSlot, recvSlot: recvSlot, tramp: tramp,
		totalTimeout: totalTimeout, pollStep: pollStep, pollInterval: pollInterval,
	}
}

// Install patches both slots and starts the watchdog. If RECV fails to
// patch after SEND succeeded, SEND is rolled back to its captured original
// before the error is returned.
func (h *Hook) Install() error {
	if h.sendSlot == 0 || h.recvSlot == 0 {
		return fmt.Errorf("hook: missing slot address")
	}

	sendReplacement := h.tramp.SendSlotPointer()
	origSend, err := WaitAndPatch(h.sendSlot, sendReplacement, h.totalTimeout, h.pollStep)
	if err != nil {
		return fmt.Errorf("install send slot: %w", err)
	}
	h.originalSend = origSend

	recvReplacement := h.tramp.RecvSlotPointer()
	origRecv, err := WaitAndPatch(h.recvSlot, recvReplacement, h.totalTimeout, h.pollStep)
	if err != nil {
		if rbErr := Force(h.sendSlot, origSend); rbErr != nil {
			logger.App.Error("rollback of send slot failed", "err", rbErr)
		}
		return fmt.Errorf("install recv slot: %w", err)
	}
	h.originalRecv = origRecv

	h.tramp.SetOriginals(origSend, origRecv)

	h.watchdog = NewWatchdog(map[uintptr]uintptr{
		h.sendSlot: sendReplacement,
		h.recvSlot: recvReplacement,
	}, h.pollInterval)
	h.watchdog.Start()

	logger.App.Info("hook installed", "send_slot", h.sendSlot, "recv_slot", h.recvSlot)
	return nil
}

// Uninstall stops the watchdog and forces both slots back to their
// originally captured values, best effort. Idempotent.
func (h *Hook) Uninstall() {
	if h.watchdog != nil {
		h.watchdog.Stop()
		h.watchdog = nil
	}
	if h.originalSend != 0 {
		if err := Force(h.sendSlot, h.originalSend); err != nil {
			logger.App.Warn("uninstall: restore send slot failed", "err", err)
		}
	}
	if h.originalRecv != 0 {
		if err := Force(h.recvSlot, h.originalRecv); err != nil {
			logger.App.Warn("uninstall: restore recv slot failed", "err", err)
		}
	}
	logger.App.Info("hook uninstalled")
}
