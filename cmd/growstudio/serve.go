package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cultimatics/growstudio/internal/buildinfo"
	"github.com/cultimatics/growstudio/internal/commands"
	"github.com/cultimatics/growstudio/internal/config"
	"github.com/cultimatics/growstudio/internal/connwatch"
	"github.com/cultimatics/growstudio/internal/dashboard"
	"github.com/cultimatics/growstudio/internal/events"
	"github.com/cultimatics/growstudio/internal/history"
	"github.com/cultimatics/growstudio/internal/liveness"
	"github.com/cultimatics/growstudio/internal/metrics"
	"github.com/cultimatics/growstudio/internal/mqtt"
	"github.com/cultimatics/growstudio/internal/senseihttp"
	"github.com/cultimatics/growstudio/internal/web"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// app is the wired component graph behind "growstudio serve".
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	bus     *events.Bus
	metrics *metrics.Recorder
	session *mqtt.Session
	router  *mqtt.Router
	monitor *liveness.Monitor
	state   *dashboard.State
	server  *web.Server

	unwatchView func()

	// Optional, nil when disabled.
	store  *history.Store
	pruner *history.Pruner
	board  *connwatch.Watcher
}

// newApp builds every component and registers the topic routes. Nothing
// touches the network until start.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	// All persistent state (instance ID, reading history) lives here.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load instance id: %w", err)
	}
	clientID := mqtt.ClientID(cfg.MQTT.ClientIDPrefix, instanceID)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		bus:     events.New(),
		metrics: metrics.New(),
	}

	a.session = mqtt.NewSession(cfg.MQTT, clientID, logger.With("component", "mqtt"),
		mqtt.WithMetrics(a.metrics),
		mqtt.WithEvents(a.bus),
	)
	a.router = mqtt.NewRouter(a.session, logger.With("component", "router"), mqtt.WithRouterMetrics(a.metrics))
	a.session.SetMessageHandler(a.router.Dispatch)

	a.monitor = liveness.New(liveness.Config{
		Threshold: cfg.Liveness.Threshold(),
		Interval:  cfg.Liveness.SampleInterval(),
	}, logger.With("component", "liveness"))

	emitter := commands.NewEmitter(a.session, commands.WithObserver(func(c commands.Command) {
		a.bus.Emit(events.SourceDashboard, events.KindCommand, map[string]any{
			"topic":   c.Topic,
			"payload": string(c.Payload),
		})
	}))

	a.state = dashboard.New(dashboard.Config{
		Emitter: emitter,
		Monitor: a.monitor,
		Bus:     a.bus,
		Metrics: a.metrics,
		Logger:  logger.With("component", "dashboard"),
	})

	a.unwatchView = a.state.Subscribe(func(v dashboard.View) {
		a.metrics.SetControllerRunning("ph", v.PH.State == dashboard.Running)
		a.metrics.SetControllerRunning("nutrient", v.Nutrient.State == dashboard.Running)
	})

	a.router.Register(commands.TopicStatus, a.state.HandleStatus)
	a.router.Register(commands.TopicDeviceError, a.state.HandleDeviceError)

	if cfg.History.Enabled {
		dbPath := filepath.Join(cfg.DataDir, "history.db")
		minInterval := time.Duration(cfg.History.MinIntervalSec) * time.Second
		a.store, err = history.NewStore(dbPath, minInterval, logger.With("component", "history"))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open history database %s: %w", dbPath, err)
		}
		retention := time.Duration(cfg.History.RetentionHours) * time.Hour
		a.pruner, err = history.NewPruner(a.store, retention, logger.With("component", "history"))
		if err != nil {
			a.close()
			return nil, err
		}
		a.router.Register(commands.TopicStatus, a.store.HandleStatus)
		logger.Info("history database opened", "path", dbPath, "retention", retention)
	}

	if cfg.REST.Configured() {
		client := senseihttp.NewClient(cfg.REST.URL, time.Duration(cfg.REST.TimeoutSec)*time.Second, logger.With("component", "rest"))
		a.board = connwatch.New(connwatch.Config{
			Name: "sensei-rest",
			Probe: func(ctx context.Context) error {
				_, err := client.GetStatus(ctx)
				return err
			},
			OnChange: func(st connwatch.Status) {
				a.bus.Emit(events.SourceDevice, boardKind(st.Reachable), map[string]any{
					"url":   cfg.REST.URL,
					"error": st.LastError,
				})
			},
			Logger: logger.With("component", "connwatch"),
		})
	}

	webCfg := web.Config{
		State:     a.state,
		Bus:       a.bus,
		Metrics:   a.metrics,
		Broker:    a.session,
		PublicURL: cfg.PublicURL,
		Logger:    logger.With("component", "web"),
	}
	// Interface fields stay nil rather than holding typed nil pointers.
	if a.store != nil {
		webCfg.History = a.store
	}
	if a.board != nil {
		webCfg.Board = a.board
	}
	a.server = web.NewServer(webCfg)

	return a, nil
}

func boardKind(reachable bool) string {
	if reachable {
		return events.KindRESTUp
	}
	return events.KindRESTDown
}

// start launches the background components. The HTTP server is started
// separately by runServe because it blocks.
func (a *app) start(ctx context.Context) error {
	if err := a.session.Start(ctx); err != nil {
		return err
	}
	a.monitor.Start(ctx)
	if a.pruner != nil {
		a.pruner.Start()
	}
	if a.board != nil {
		a.board.Start(ctx)
	}
	return nil
}

// shutdown stops everything start launched, in reverse order.
func (a *app) shutdown(ctx context.Context) {
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("dashboard server shutdown failed", "error", err)
	}
	a.board.Stop()
	if a.pruner != nil {
		a.pruner.Stop()
	}
	a.monitor.Stop()
	if err := a.session.Stop(ctx); err != nil {
		a.logger.Error("mqtt shutdown failed", "error", err)
	}
	a.close()
}

// close releases resources newApp acquired.
func (a *app) close() {
	if a.unwatchView != nil {
		a.unwatchView()
	}
	if a.state != nil {
		a.state.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("history database close failed", "error", err)
		}
	}
}

// runServe starts the dashboard and MQTT session and blocks until a
// shutdown signal arrives or the server fails.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting GrowStudio", "version", buildinfo.Version, "commit", buildinfo.Commit(), "built", buildinfo.Built())

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"listen", cfg.Listen.Addr(),
		"broker", cfg.MQTT.Broker,
		"rest", cfg.REST.URL,
		"history", cfg.History.Enabled,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	// SIGINT/SIGTERM cancel the same ctx every component runs under.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.close()
		return fmt.Errorf("start mqtt session: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		a.shutdown(shutdownCtx)
	}()

	serveErr := a.server.Start(cfg.Listen.Addr())
	cancel()
	<-stopped
	if serveErr != nil {
		return fmt.Errorf("dashboard server failed: %w", serveErr)
	}

	logger.Info("GrowStudio stopped")
	return nil
}
