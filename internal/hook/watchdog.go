//go:build windows

package hook

import (
	"context"
	"sync"
	"time"

	"github.com/ehrlich-b/arkanrelay/internal/hexlog"
	"github.com/ehrlich-b/arkanrelay/internal/logger"
	"github.com/ehrlich-b/arkanrelay/internal/memaccess"
)

// DefaultPollInterval is how often the watchdog re-checks patched slots.
const DefaultPollInterval = 500 * time.Millisecond

// Watchdog periodically verifies that patched slots still hold the
// installed replacement, re-asserting it when third-party code (or the
// loader) overwrites it.
type Watchdog struct {
	slots    map[uintptr]uintptr // slot address -> expected replacement
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatchdog returns a watchdog guarding the given slot->replacement pairs.
func NewWatchdog(slots map[uintptr]uintptr, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watchdog{slots: slots, interval: interval}
}

// Start begins polling on a dedicated goroutine.
func (w *Watchdog) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *Watchdog) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkOnce()
		}
	}
}

func (w *Watchdog) checkOnce() {
	for slot, want := range w.slots {
		cur := memaccess.ReadUintptr(slot)
		if cur == want {
			continue
		}
		if !memaccess.IsReadable(slot) {
			continue
		}
		if err := Force(slot, want); err != nil {
			logger.App.Warn("watchdog re-assert failed", "slot", hexlog.Ptr(slot), "err", err)
			continue
		}
		logger.App.Info("watchdog re-asserted slot", "slot", hexlog.Ptr(slot), "found", hexlog.Ptr(cur))
	}
}

// Stop cooperatively stops the polling goroutine and waits for it to exit.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
