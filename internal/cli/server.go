package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"tailscale.com/tsnet"

	"github.com/sploithunter/coding-agent-bridge/internal/adapter"
	"github.com/sploithunter/coding-agent-bridge/internal/bridge"
	"github.com/sploithunter/coding-agent-bridge/internal/config"
	"github.com/sploithunter/coding-agent-bridge/internal/hook"
	"github.com/sploithunter/coding-agent-bridge/internal/notify"
	"github.com/sploithunter/coding-agent-bridge/internal/server"
	"github.com/sploithunter/coding-agent-bridge/internal/tailer"
	"github.com/sploithunter/coding-agent-bridge/internal/tmux"
)

var (
	flagHost      string
	flagPort      int
	flagAgent     string
	flagTailscale bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the bridge server",
	Long: `Run the bridge: tail the events file, supervise tmux sessions, and
serve the HTTP + WebSocket API.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&flagHost, "host", "", "listen host")
	serverCmd.Flags().IntVar(&flagPort, "port", 0, "listen port")
	serverCmd.Flags().StringVar(&flagAgent, "agent", "", "default agent for new sessions")
	serverCmd.Flags().BoolVar(&flagTailscale, "tailscale", false, "listen on the tailnet via tsnet (TLS)")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagDataDir)
	if err != nil {
		return err
	}
	if flagHost != "" {
		cfg.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagAgent != "" {
		cfg.DefaultAgent = flagAgent
	}
	if flagDebug {
		cfg.Debug = true
	}
	if flagTailscale {
		cfg.Tailscale = true
	}

	logger := newLogger(cfg.Debug)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	// One bridge per data dir; a second instance would fight over
	// sessions.json and the events file.
	lock := flock.New(cfg.LockFile())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("another bridge is already using %s", cfg.DataDir)
	}
	defer lock.Unlock()

	driver := tmux.New(logger)
	if !driver.IsAvailable() {
		logger.Warn("tmux not found on PATH; session creation will fail")
	}

	registry := adapter.NewRegistry()
	decoder := hook.NewDecoder(registry, logger)

	sup := bridge.New(bridge.Config{
		DataDir:        cfg.DataDir,
		DefaultAgent:   cfg.DefaultAgent,
		LinkingWindow:  time.Duration(cfg.LinkingWindowMs) * time.Millisecond,
		WorkingTimeout: time.Duration(cfg.WorkingTimeoutMs) * time.Millisecond,
		OfflineCleanup: time.Duration(cfg.OfflineCleanupMs) * time.Millisecond,
		StaleCleanup:   time.Duration(cfg.StaleCleanupMs) * time.Millisecond,
		TrackExternal:  cfg.TrackExternal,
	}, driver, registry, logger)
	if err := sup.Load(); err != nil {
		logger.Error("failed to load persisted sessions", "err", err)
	}

	notifier, err := notify.NewManager(cfg.DataDir, cfg.SlackWebhookURL, logger)
	if err != nil {
		logger.Warn("notifications disabled", "err", err)
		notifier = nil
	}

	srv := server.New(server.Config{
		Supervisor:     sup,
		Decoder:        decoder,
		Notify:         notifier,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// Hook payloads land in the events file first; tail it into the
	// pipeline. Lines written while the bridge was down are skipped.
	if err := os.MkdirAll(filepath.Dir(cfg.EventsFile()), 0o755); err != nil {
		return err
	}
	tail := tailer.New(cfg.EventsFile(), logger)
	tail.OnLine = srv.HandleHookLine
	if err := tail.Start(); err != nil {
		return fmt.Errorf("starting events tailer: %w", err)
	}

	sup.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ln net.Listener
	var tsServer *tsnet.Server
	if cfg.Tailscale {
		tsServer = &tsnet.Server{
			Hostname: cfg.TailscaleHostname,
			Logf:     func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) },
		}
		defer tsServer.Close()
		ln, err = tsServer.ListenTLS("tcp", ":"+strconv.Itoa(cfg.Port))
		if err != nil {
			return fmt.Errorf("tailscale listen: %w", err)
		}
	} else {
		ln, err = net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	fmt.Fprintf(os.Stderr, "\n  cab v%s running at http://%s\n\n", version, ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	tail.Stop()
	sup.Stop()
	return nil
}
