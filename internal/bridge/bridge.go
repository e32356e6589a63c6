// Package bridge wires the trampoline's observations, the injection
// queue, and the Kore link into the runtime wiring the rest of the
// components only describe in isolation.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/arkanrelay/internal/hexlog"
	"github.com/ehrlich-b/arkanrelay/internal/korelink"
	"github.com/ehrlich-b/arkanrelay/internal/logger"
)

// Hooker is the install/uninstall contract the bridge drives; *hook.Hook
// satisfies it on windows builds.
type Hooker interface {
	Install() error
	Uninstall()
}

// Linker is the connect/send contract the bridge drives against Kore.
type Linker interface {
	Run(ctx context.Context) error
	SendFrame(kind byte, payload []byte) error
	SetOnFrame(korelink.FrameHandler)
}

// Injector is the queue contract the bridge dispatches inbound frames to.
type Injector interface {
	TryInjectSend(bytes []byte, appendChecksum bool) bool
	InjectRecv(bytes []byte) bool
	NotifySocket(socket uintptr)
}

// Bridge wires trampoline events to the Kore link and Kore frames to the
// injection queue.
type Bridge struct {
	hook  Hooker
	link  Linker
	queue Injector

	keepAlives atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Bridge ready to Start.
func New(h Hooker, l Linker, q Injector) *Bridge {
	return &Bridge{hook: h, link: l, queue: q}
}

// EmitSend implements trampoline.Observer. SEND observations are logged
// for diagnostics only — outbound 'S' frames to Kore are dropped by
// policy (see DESIGN.md: asymmetric forwarding is intentional).
func (b *Bridge) EmitSend(data []byte) {
	logger.Sock.Debug("send observed", "bytes", hexlog.Dump(data, 32))
}

// EmitRecv implements trampoline.Observer: RECV observations are forwarded
// to Kore as 'R' frames.
func (b *Bridge) EmitRecv(data []byte) {
	if err := b.link.SendFrame(korelink.KindRecv, data); err != nil {
		logger.App.Warn("recv forward failed", "err", err)
	}
}

// NotifySocket implements trampoline.Observer, fanning out to the
// injection queue's drain trigger.
func (b *Bridge) NotifySocket(socket uintptr) {
	b.queue.NotifySocket(socket)
}

// onFrame handles an inbound frame from Kore: 'S' injects as client-path
// bytes, 'R' injects as receive-path bytes (routed through SEND per
// DESIGN.md Open Question 2), 'K' is a keep-alive no-op counter bump.
func (b *Bridge) onFrame(kind byte, payload []byte) {
	switch kind {
	case korelink.KindSend:
		b.queue.TryInjectSend(payload, true)
	case korelink.KindRecv:
		b.queue.InjectRecv(payload)
	case korelink.KindKeepAlive:
		b.keepAlives.Add(1)
	default:
		logger.App.Warn("unknown frame kind", "kind", kind)
	}
}

// KeepAliveCount reports how many keep-alive frames have been received.
func (b *Bridge) KeepAliveCount() uint64 { return b.keepAlives.Load() }

// Start installs the hook and connects the link. If install fails the
// link is never started.
func (b *Bridge) Start(ctx context.Context) error {
	b.link.SetOnFrame(b.onFrame)

	if err := b.hook.Install(); err != nil {
		return fmt.Errorf("bridge start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.link.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.App.Error("korelink run exited", "err", err)
		}
	}()
	return nil
}

// Stop uninstalls the hook and stops the link. Idempotent.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.hook.Uninstall()
	b.wg.Wait()
}
