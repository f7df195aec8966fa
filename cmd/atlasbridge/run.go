package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/atlasbridge/atlasbridge/internal/adapter"
	"github.com/atlasbridge/atlasbridge/internal/channel"
	"github.com/atlasbridge/atlasbridge/internal/detector"
	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/ptycore"
	"github.com/atlasbridge/atlasbridge/internal/router"
	"github.com/atlasbridge/atlasbridge/internal/session"
)

var runFlags struct {
	Label       string
	ShutdownSec int
}

var runCmd = &cobra.Command{
	Use:   "run [tool] [args...]",
	Short: "Supervise a child program, relaying its interactive prompts to a human",
	Long: `run spawns tool (or config.toml's default_tool if no tool is given)
inside a PTY and relays its interactive prompts to a human via the
configured channel.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSupervised(cmd.Context(), args)
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.Label, "label", "", "human-readable label recorded with the session")
	runCmd.Flags().IntVar(&runFlags.ShutdownSec, "shutdown-grace", 10, "seconds to wait for the child after SIGTERM/SIGINT before force-killing")
}

// runSupervised is the body shared by `run` and the daemonized
// `start` command: load config, open the durable stack, spawn the
// child in a PTY, and run the four cooperating tasks (output reader,
// input relay, stall watchdog, reply injector) under one
// errgroup.Group tied to a cancelable context, per SPEC_FULL.md §5.
func runSupervised(ctx context.Context, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rg, err := openRig(ctx, cfg)
	if err != nil {
		return err
	}
	defer rg.Close()

	tool := cfg.DefaultTool
	var toolArgs []string
	if len(args) > 0 {
		tool = args[0]
		toolArgs = args[1:]
	}
	ad, err := adapter.Lookup(tool)
	if err != nil {
		ad, err = adapter.Lookup("generic")
		if err != nil {
			return err
		}
	}

	ch, err := channel.Lookup(cfg.Channel, cfg.ChannelTokens)
	if err != nil {
		return err
	}

	sessMgr := session.NewManager(rg.store)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if wsc, ok := ch.(*channel.WSConsole); ok {
		srv := newWSConsoleServer(cfg.WSConsoleAddr, wsc)
		go func() {
			if serr := srv.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
				log.Error().Err(serr).Msg("wsconsole http server")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", cfg.WSConsoleAddr).Msg("wsconsole listening")
	}

	handle, err := sessMgr.Start(runCtx, tool, runFlags.Label, cancel)
	if err != nil {
		return err
	}

	attach := term.IsTerminal(int(os.Stdin.Fd()))
	rows, cols := uint16(24), uint16(80)
	if attach {
		if w, h, werr := term.GetSize(int(os.Stdout.Fd())); werr == nil {
			cols, rows = uint16(w), uint16(h)
		}
	}

	sup, err := ptycore.Spawn(ptycore.Config{
		SessionID: handle.SessionID,
		Command:   append([]string{tool}, toolArgs...),
		Size:      ptycore.Size{Rows: rows, Cols: cols},
		Attach:    attach,
	})
	if err != nil {
		_ = sessMgr.End(runCtx, handle.SessionID)
		return fmt.Errorf("spawn %s: %w", tool, err)
	}

	const silenceMS = 2000
	det := detector.New(detector.Config{
		Rules:     ad.PromptPatterns(),
		SilenceMS: silenceMS,
		Warnf:     func(format string, args ...any) { log.Warn().Msgf(format, args...) },
	})

	rt := router.New(router.Config{
		Store:          rg.store,
		Audit:          rg.audit,
		Channel:        ch,
		Adapter:        ad,
		Autopilot:      rg.autopilot,
		Injector:       sup,
		Suppressor:     det,
		Allowlist:      cfg.Allowlist,
		DefaultTTLSecs: 60,
		ToolID:         tool,
		SessionLabel:   runFlags.Label,
	})

	if err := rt.RecoverPending(runCtx); err != nil {
		log.Error().Err(err).Msg("recover pending prompts")
	}

	g, gctx := errgroup.WithContext(runCtx)

	analyzeAndRoute := func() {
		result := det.Analyze(sup)
		if !result.Fired {
			return
		}
		event := domain.PromptEvent{
			SessionID:  handle.SessionID,
			Type:       result.Type,
			Excerpt:    result.Excerpt,
			Confidence: result.Confidence,
			Signal:     result.Signal,
		}
		if rerr := rt.Route(gctx, event); rerr != nil {
			log.Error().Err(rerr).Str("session_id", handle.SessionID).Msg("route prompt")
		}
	}

	g.Go(func() error {
		return sup.ReadLoop(gctx, func(chunk []byte) {
			det.Feed(chunk)
			analyzeAndRoute()
		})
	})

	if attach {
		g.Go(func() error {
			return sup.InputRelay(gctx, os.Stdin, det.Suppressed)
		})
	}

	// Stall watchdog: re-evaluates the detector on a fixed tick so the
	// silence signal fires even when the child has gone quiet and the
	// output reader has nothing new to feed (spec.md §4.5).
	g.Go(func() error {
		ptycore.StallWatchdog(gctx, silenceMS, analyzeAndRoute)
		return nil
	})

	g.Go(func() error {
		return sup.Wait()
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g.Go(func() error {
		select {
		case <-sigCh:
			_ = sup.Signal(syscall.SIGTERM)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	grace := time.Duration(runFlags.ShutdownSec) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- g.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-gctx.Done():
		select {
		case waitErr = <-waitDone:
		case <-time.After(grace):
			// The child ignored SIGTERM within the grace period; force it.
			_ = sup.Kill()
			waitErr = <-waitDone
		}
	}

	_ = sup.Close()
	_ = sessMgr.End(context.Background(), handle.SessionID)

	if waitErr != nil && waitErr != context.Canceled {
		return waitErr
	}
	return nil
}

// newWSConsoleServer exposes the wsconsole channel's websocket upgrade
// endpoint over HTTP, grounded on rcourtman-Pulse's internal/websocket.Hub
// being served from a plain http.Server alongside the rest of the API.
func newWSConsoleServer(addr string, wsc *channel.WSConsole) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(rw http.ResponseWriter, r *http.Request) {
		if err := wsc.HandleWebSocket(rw, r); err != nil {
			log.Error().Err(err).Msg("wsconsole websocket upgrade")
		}
	})
	return &http.Server{Addr: addr, Handler: mux}
}
