//go:build windows

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/arkanrelay/internal/addr"
	"github.com/ehrlich-b/arkanrelay/internal/bridge"
	"github.com/ehrlich-b/arkanrelay/internal/checksum"
	"github.com/ehrlich-b/arkanrelay/internal/config"
	"github.com/ehrlich-b/arkanrelay/internal/console"
	"github.com/ehrlich-b/arkanrelay/internal/hook"
	"github.com/ehrlich-b/arkanrelay/internal/inject"
	"github.com/ehrlich-b/arkanrelay/internal/korelink"
	"github.com/ehrlich-b/arkanrelay/internal/logger"
	"github.com/ehrlich-b/arkanrelay/internal/portclaim"
	"github.com/ehrlich-b/arkanrelay/internal/protocol"
	"github.com/ehrlich-b/arkanrelay/internal/trampoline"
)

func runCmd() *cobra.Command {
	var configPath string
	var showConsole bool
	var watchConfig bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Install the hook and bridge traffic to Kore",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.DefaultPath()
			}
			return runBridge(configPath, showConsole, watchConfig)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the settings file (default: "+config.DefaultPath()+")")
	cmd.Flags().BoolVar(&showConsole, "console", false, "allocate a console window even if the config doesn't request one")
	cmd.Flags().BoolVar(&watchConfig, "watch-config", true, "watch the settings file and log kore.* changes (applied on restart)")
	return cmd
}

func runBridge(configPath string, showConsole, watchConfig bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var appLog, sockLog string
	if cfg.Logging.SaveAppLog {
		appLog = filepath.Join(cfg.Logging.Dir, orDefault(cfg.Logging.AppLogFilename, "arkan-relay-app.log"))
	}
	if cfg.Logging.SaveSocketLog {
		sockLog = filepath.Join(cfg.Logging.Dir, orDefault(cfg.Logging.SocketLogFilename, "arkan-relay-socket.log"))
	}
	if err := logger.Init(cfg.Logging.Level, appLog, sockLog); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	if cfg.ShowConsole || showConsole {
		if err := console.Alloc(); err != nil {
			logger.App.Warn("console allocation failed", "err", err)
		} else {
			defer console.Free()
		}
	}

	if len(cfg.Kore.Ports) == 0 {
		return fmt.Errorf("config: kore.ports is empty")
	}
	claim, err := portclaim.Acquire(cfg.Kore.Host, cfg.Kore.Ports[0])
	if err != nil {
		return fmt.Errorf("port claim: %w", err)
	}
	defer claim.Release()

	resolver, err := addr.NewResolver()
	if err != nil {
		return fmt.Errorf("address resolver: %w", err)
	}
	sendSlot, err := resolver.ResolveHex(cfg.Advanced.FnSendAddr)
	if err != nil {
		return fmt.Errorf("config: advanced.fn_send_addr: %w", err)
	}
	recvSlot, err := resolver.ResolveHex(cfg.Advanced.FnRecvAddr)
	if err != nil {
		return fmt.Errorf("config: advanced.fn_recv_addr: %w", err)
	}
	seedAddr, err := resolver.ResolveHex(cfg.Advanced.FnSeedAddr)
	if err != nil {
		return fmt.Errorf("config: advanced.fn_seed_addr: %w", err)
	}
	checksumAddr, err := resolver.ResolveHex(cfg.Advanced.FnChecksumAddr)
	if err != nil {
		return fmt.Errorf("config: advanced.fn_checksum_addr: %w", err)
	}
	if sendSlot == 0 || recvSlot == 0 || seedAddr == 0 || checksumAddr == 0 {
		return fmt.Errorf("config: all four of advanced.fn_*_addr are required")
	}
	resolver.LogPages(map[string]uintptr{
		"send_slot":    sendSlot,
		"recv_slot":    recvSlot,
		"seed_fn":      seedAddr,
		"checksum_fn":  checksumAddr,
	})

	state := protocol.NewState()
	svc := checksum.New(seedAddr, checksumAddr)
	tramp := trampoline.New(state, svc)

	queue := inject.New(tramp, state)

	policy := korelink.ReconnectPolicy{
		Initial: time.Duration(cfg.Kore.Reconnect.InitialMs) * time.Millisecond,
		Max:     time.Duration(cfg.Kore.Reconnect.MaxMs) * time.Millisecond,
		Backoff: cfg.Kore.Reconnect.Backoff,
		JitterP: cfg.Kore.Reconnect.JitterP,
	}
	link := korelink.New(cfg.Kore.Host, cfg.Kore.Ports, policy)

	h := hook.New(sendSlot, recvSlot, tramp, hook.DefaultTotalTimeout, hook.DefaultPollStep, hook.DefaultPollInterval)

	br := bridge.New(h, link, queue)
	tramp.SetObserver(br)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if watchConfig {
		go func() {
			_ = config.Watch(ctx, configPath, func(newCfg *config.Config) {
				logger.App.Info("kore config changed; restart required to apply", "host", newCfg.Kore.Host)
			})
		}()
	}

	if err := br.Start(ctx); err != nil {
		return fmt.Errorf("bridge start: %w", err)
	}
	logger.App.Info("arkanrelay running")

	<-ctx.Done()
	logger.App.Info("shutting down")
	br.Stop()
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
