package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cultimatics/growstudio/internal/commands"
	"github.com/cultimatics/growstudio/internal/liveness"
	"github.com/cultimatics/growstudio/internal/mqtt"
	"github.com/cultimatics/growstudio/internal/sensei"
	"github.com/cultimatics/growstudio/internal/senseihttp"
)

// printer writes status and liveness lines in text or JSON. Calls come
// from the router and the liveness ticker, so writes are serialized.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

func (p *printer) status(st sensei.Status, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == "json" {
		json.NewEncoder(p.w).Encode(map[string]any{"type": "status", "at": at, "status": st})
		return
	}
	fmt.Fprintf(p.w, "%s  pH %.2f  EC %.2f  dosers %d  pH controller %s  nutrient controller %s\n",
		at.Format(time.TimeOnly), st.PH, st.EC, len(st.Dosers),
		runningLabel(st.PHControllerRunning), runningLabel(st.NutrientControllerRunning))
}

func (p *printer) liveness(st liveness.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == "json" {
		json.NewEncoder(p.w).Encode(map[string]any{
			"type":               "liveness",
			"connected":          st.Connected,
			"last_seen":          st.LastSeen,
			"since_last_seen_ms": st.SinceLastSeenMS(),
		})
		return
	}
	if st.Connected {
		fmt.Fprintln(p.w, "board connected")
		return
	}
	seen := "never"
	if !st.LastSeen.IsZero() {
		seen = humanize.Time(st.LastSeen)
	}
	fmt.Fprintf(p.w, "board disconnected (last seen %s)\n", seen)
}

func runningLabel(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

// runWatch connects to the broker and prints every status broadcast and
// liveness change until interrupted. Logs go to stderr so stdout stays
// parseable.
func runWatch(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load instance id: %w", err)
	}
	// A distinct suffix keeps watch from kicking a running serve off the
	// broker with the same client ID.
	clientID := mqtt.ClientID(cfg.MQTT.ClientIDPrefix+"-watch", instanceID)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := &printer{w: stdout, format: outputFmt}

	session := mqtt.NewSession(cfg.MQTT, clientID, logger)
	router := mqtt.NewRouter(session, logger)
	session.SetMessageHandler(router.Dispatch)

	monitor := liveness.New(liveness.Config{
		Threshold: cfg.Liveness.Threshold(),
		Interval:  cfg.Liveness.SampleInterval(),
	}, logger)
	defer monitor.Subscribe(out.liveness)()

	router.Register(commands.TopicStatus, func(payload []byte) error {
		st, err := sensei.DecodeStatus(payload)
		if err != nil {
			return err
		}
		now := time.Now()
		monitor.MarkSeen(now)
		out.status(st, now)
		return nil
	})

	if err := session.Start(ctx); err != nil {
		return err
	}
	monitor.Start(ctx)
	defer monitor.Stop()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	return session.Stop(stopCtx)
}

// runRESTStatus fetches one status over the board's HTTP API.
func runRESTStatus(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.REST.Configured() {
		return errors.New("rest.url is not configured")
	}
	logger := configuredLogger(io.Discard, cfg)

	client := senseihttp.NewClient(cfg.REST.URL, time.Duration(cfg.REST.TimeoutSec)*time.Second, logger)
	st, err := client.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("rest status: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Fprintf(stdout, "pH:                  %.2f\n", st.PH)
	fmt.Fprintf(stdout, "EC:                  %.2f\n", st.EC)
	fmt.Fprintf(stdout, "pH controller:       %s\n", runningLabel(st.PHControllerRunning))
	fmt.Fprintf(stdout, "nutrient controller: %s\n", runningLabel(st.NutrientControllerRunning))
	for i, d := range st.Dosers {
		fmt.Fprintf(stdout, "doser %d:             max %s mL/min\n", i, humanize.FtoaWithDigits(d.MaxFlowRate, 1))
	}
	return nil
}
