// Command taskrt runs a small supervised workload against the runtime: a
// few noisy producers behind a rate policy, a task that panics, and a
// blocking task, until interrupted or the run duration passes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/baxromumarov/taskrt"
	"github.com/baxromumarov/taskrt/clock"
	"github.com/baxromumarov/taskrt/config"
	"github.com/baxromumarov/taskrt/metrics"
)

const name = "taskrt"

var (
	// overridden during build with ldflags
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cli.Command {
	return &cli.Command{
		Name:    name,
		Usage:   "Run a supervised demo workload with rate-limited logging",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML runtime configuration file",
				Sources: cli.EnvVars("TASKRT_CONFIG"),
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "maximum concurrently running tasks, 0 for unbounded (overrides config)",
				Value: -1,
			},
			&cli.IntFlag{
				Name:  "producers",
				Usage: "number of noisy producer tasks",
				Value: 4,
			},
			&cli.StringFlag{
				Name:  "rate-interval",
				Usage: `minimum interval between records per producer site, e.g. "500ms" or "2 secs"`,
				Value: "1s",
			},
			&cli.StringFlag{
				Name:  "duration",
				Usage: "how long to run before shutting down; empty runs until interrupted",
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "seed for reproducible task IDs and retry jitter",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "serve Prometheus metrics on this address, e.g. :9090",
				Sources: cli.EnvVars("TASKRT_METRICS_ADDR"),
			},
		},
		Action: run,
	}
}

func loadConfig(cmd *cli.Command) (config.Config, error) {
	path := cmd.String("config")
	if path == "" {
		return config.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return config.Parse(data)
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if w := cmd.Int("workers"); w >= 0 {
		cfg.Workers = w
	}
	interval, err := clock.ParseDuration(cmd.String("rate-interval"))
	if err != nil {
		return err
	}

	opts, closeSink, err := cfg.Options()
	if err != nil {
		return err
	}
	defer func() { _ = closeSink() }()
	opts = append(opts, taskrt.WithRatePolicy("demo.producer.*", interval))
	if cmd.IsSet("seed") {
		opts = append(opts, taskrt.WithSeed(cmd.Uint64("seed")))
	}

	rt, err := taskrt.New(ctx, opts...)
	if err != nil {
		return err
	}
	log := rt.Logger("demo.main")

	if addr := cmd.String("metrics-addr"); addr != "" {
		srv, err := serveMetrics(rt, addr)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info("serving metrics", "addr", addr)
	}

	runCtx := ctx
	if d := cmd.String("duration"); d != "" {
		dur, err := clock.ParseDuration(d)
		if err != nil {
			return err
		}
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, dur)
		defer cancel()
	}

	startWorkload(rt, cmd.Int("producers"))
	log.Info("started", "version", version, "workers", cfg.Workers)

	<-runCtx.Done()
	log.Info("shutting down", "reason", context.Cause(runCtx))

	rep := rt.Shutdown(cfg.ShutdownTimeout.D())
	st := rt.LogStats()
	fmt.Fprintf(os.Stderr, "tasks: %+v\nlogs: delivered=%d suppressed=%d reported=%d\n",
		rt.TaskStats(), st.Delivered, st.Suppressed, st.Reported)
	return rep.Err()
}

func startWorkload(rt *taskrt.Runtime, producers int) {
	jobs := rt.NewScope("producers")
	for i := range producers {
		site := fmt.Sprintf("demo.producer.%d", i)
		rt.SpawnScoped(jobs, site, func(ctx context.Context, sp taskrt.Spawner) error {
			n := 0
			for {
				if err := taskrt.Sleep(ctx, 10*time.Millisecond); err != nil {
					return err
				}
				n++
				rt.Log(ctx, taskrt.LevelInfo, site, "tick", map[string]any{"n": n})
			}
		})
	}

	rt.Spawn("demo.flaky", func(ctx context.Context, sp taskrt.Spawner) error {
		if err := taskrt.Sleep(ctx, 200*time.Millisecond); err != nil {
			return err
		}
		var m map[string]int
		m["boom"]++ // recovered and logged by the supervisor
		return nil
	})

	taskrt.SpawnRetry(rt.Root(), "demo.retry", 3, 50*time.Millisecond, func(ctx context.Context, _ taskrt.Spawner) error {
		return errors.New("upstream unavailable")
	})

	rt.SpawnBlocking("demo.blocking", func(ctx context.Context) error {
		f, err := os.CreateTemp("", "taskrt-*")
		if err != nil {
			return err
		}
		defer os.Remove(f.Name())
		defer f.Close()
		_, err = f.WriteString("blocking io\n")
		rt.Logger("demo.blocking").InfoContext(ctx, "wrote temp file", "path", f.Name())
		return err
	})
}

func serveMetrics(rt *taskrt.Runtime, addr string) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if _, err := metrics.Register(reg, rt, name); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv, nil
}
