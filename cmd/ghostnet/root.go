package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bit2swaz/ghostnet/internal/cipher"
	"github.com/bit2swaz/ghostnet/internal/config"
	"github.com/bit2swaz/ghostnet/internal/engine"
	"github.com/bit2swaz/ghostnet/internal/logger"
	"github.com/bit2swaz/ghostnet/internal/metrics"
	"github.com/bit2swaz/ghostnet/internal/store"
	"github.com/bit2swaz/ghostnet/internal/tui"
	"github.com/bit2swaz/ghostnet/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var cfg = config.Load()

var rootCmd = &cobra.Command{
	Use:   "ghostnet",
	Short: "Serverless LAN messenger",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		if err := logger.Init(cfg.LogPath(), logger.ParseLevel(cfg.LogLevel)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Join the LAN and open the chat client",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.LoadSettings(cfg.SettingsPath())
		atRest := cipher.LoadOrCreateKeyFile(cfg.KeyPath())
		wire := cipher.NewDaily(nil)
		if cfg.RequireEncryption && (atRest.Degraded() || wire.Degraded()) {
			return errors.New("encryption unavailable and --require-encryption is set")
		}

		st, err := store.Open(cfg.DBPath(), atRest)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		go logFailures(st.Failures())

		reg := prometheus.NewRegistry()
		notifier := &tui.Notifier{}
		opts := engine.DefaultOptions()
		opts.DiscoveryPort = cfg.DiscoveryPort
		opts.MessagingPort = cfg.MessagingPort
		opts.PortAttempts = cfg.PortAttempts
		opts.BroadcastAddrs = cfg.BroadcastAddrs
		opts.DownloadsDir = cfg.ResolveDownloadsDir()
		opts.Metrics = metrics.NewRecorder(reg)
		if !cfg.Headless {
			opts.Events = notifier.Events()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng := engine.New(st, wire, settings, opts)
		if err := eng.Start(ctx); err != nil {
			return err
		}
		defer eng.Stop()
		slog.Info("Starting GhostNet", "username", settings.Username(), "udp", eng.DiscoveryPort(), "tcp", eng.MessagingPort())

		if cfg.WebAddr != "" {
			srv := web.NewServer(eng, st, reg, cfg.WebAddr)
			go func() {
				if err := srv.Start(ctx); err != nil {
					slog.Error("Web server failed", "error", err)
				}
			}()
		}

		if cfg.Headless {
			fmt.Printf("%s listening on %s (udp %d, tcp %d)\n", settings.Username(), eng.LocalAddress(), eng.DiscoveryPort(), eng.MessagingPort())
			<-ctx.Done()
			return nil
		}
		return tui.Run(eng, notifier)
	},
}

func logFailures(ch <-chan store.Failure) {
	for f := range ch {
		slog.Debug("Store failure", "op", f.Op, "at", f.At, "error", f.Err)
	}
}

func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.DBPath(), cipher.LoadOrCreateKeyFile(cfg.KeyPath()))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for the database, key and settings")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	startCmd.Flags().IntVar(&cfg.DiscoveryPort, "discovery-port", cfg.DiscoveryPort, "UDP port for beacons")
	startCmd.Flags().IntVar(&cfg.MessagingPort, "messaging-port", cfg.MessagingPort, "TCP port for messages and files")
	startCmd.Flags().IntVar(&cfg.PortAttempts, "port-attempts", cfg.PortAttempts, "Consecutive ports to try when one is busy")
	startCmd.Flags().StringSliceVar(&cfg.BroadcastAddrs, "broadcast", cfg.BroadcastAddrs, "Beacon destinations")
	startCmd.Flags().StringVar(&cfg.DownloadsDir, "downloads", cfg.DownloadsDir, "Where received files are written")
	startCmd.Flags().StringVar(&cfg.WebAddr, "web", cfg.WebAddr, "Local API address, empty to disable")
	startCmd.Flags().BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run without the terminal client")
	startCmd.Flags().BoolVar(&cfg.RequireEncryption, "require-encryption", cfg.RequireEncryption, "Refuse to run without encryption")

	rootCmd.AddCommand(startCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
