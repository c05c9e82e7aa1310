package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthctl/hearth/internal/bridge"
	"github.com/hearthctl/hearth/internal/config"
	"github.com/hearthctl/hearth/internal/notify"
	"github.com/hearthctl/hearth/internal/recorder"
	"github.com/hearthctl/hearth/pkg/haws"
	"github.com/hearthctl/hearth/pkg/haws/endpoint"
)

var (
	servePort int
	serveBind string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hearth bridge: local REST API, event recording, notifications",
	Long: `Run hearth as a long-lived process. It keeps one session to the server
and re-exposes it locally:

  - REST bridge on 127.0.0.1:18123 (health, states, service calls, history)
  - event recording into a local SQLite database
  - state change forwarding to Telegram / Feishu`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Bridge listen port (default from config)")
	serveCmd.Flags().StringVar(&serveBind, "bind", "", "Bind mode: loopback or all")
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Warn("config load warning, using defaults", "error", err)
		cfg = config.Default()
	}
	if cmd.Flags().Changed("port") {
		cfg.Bridge.Port = servePort
	}
	if cmd.Flags().Changed("bind") {
		cfg.Bridge.Bind = serveBind
	}

	ep, err := endpoint.New(cfg.Server.URL, endpoint.WithUserAgent(cfg.Server.UserAgent))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := haws.NewClient(ep, haws.StaticToken(cfg.Server.Token), haws.WithLogger(logger))
	defer client.Close()

	logger.Info("starting hearth",
		"version", version,
		"server", ep.String(),
		"bridge_port", cfg.Bridge.Port,
	)

	// Event recorder.
	var store *recorder.Store
	if cfg.Record.Enabled {
		dir := cfg.Record.Dir
		if dir == "" {
			dir = config.StateDir()
		}
		store, err = recorder.NewStore(dir)
		if err != nil {
			return err
		}
		defer store.Close()
		go cleanupLoop(ctx, store, cfg.Record, logger)
		logger.Info("event recording enabled", "db", store.DBPath())
	}

	// Notification dispatcher.
	dispatcher := notify.NewDispatcher(&cfg.Notify, logger)
	if dispatcher.Active() {
		logger.Info("notifications enabled", "patterns", cfg.Notify.Entities)
	}

	// One subscription feeds both sinks.
	sub, err := client.SubscribeEvents("state_changed", func(ev haws.Event) {
		var sc haws.StateChange
		if err := json.Unmarshal(ev.Data, &sc); err != nil {
			logger.Error("undecodable state_changed", "error", err)
			return
		}
		if store != nil {
			state := ""
			if sc.NewState != nil {
				state = sc.NewState.State
			}
			if err := store.Insert(ev.EventType, sc.EntityID, state, ev.Data); err != nil {
				logger.Error("record event failed", "entity", sc.EntityID, "error", err)
			}
		}
		dispatcher.HandleStateChange(ctx, sc)
	})
	if err != nil {
		return err
	}
	defer sub.Cancel()

	client.Connect()

	// Log phase transitions for operators.
	go func() {
		for p := range client.Phases() {
			switch p.Kind {
			case haws.PhaseCommand:
				logger.Info("session ready", "server_version", p.ServerVersion)
			case haws.PhaseDisconnected:
				if p.Err != nil {
					logger.Warn("session lost", "error", p.Err)
				}
			}
		}
	}()

	// Bridge HTTP server.
	srv := bridge.NewServer(&cfg.Bridge, client, store, logger)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		<-serveErr
		return nil
	case err := <-serveErr:
		return err
	}
}

// cleanupLoop trims the event history on an hourly cadence.
func cleanupLoop(ctx context.Context, store *recorder.Store, cfg config.RecordConfig, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := store.Cleanup(cfg.MaxAgeDays, cfg.MaxEvents)
			if err != nil {
				logger.Error("history cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("history cleanup", "deleted", deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}
