package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/jana2go/internal/affinity"
	"github.com/oriys/jana2go/internal/arrow"
	"github.com/oriys/jana2go/internal/config"
	"github.com/oriys/jana2go/internal/event"
	"github.com/oriys/jana2go/internal/logging"
	"github.com/oriys/jana2go/internal/mailbox"
	"github.com/oriys/jana2go/internal/metrics"
	"github.com/oriys/jana2go/internal/observability"
	"github.com/oriys/jana2go/internal/report"
	"github.com/oriys/jana2go/internal/scheduler"
	"github.com/oriys/jana2go/internal/signalhandler"
	"github.com/oriys/jana2go/internal/supervisor"
	"github.com/oriys/jana2go/internal/topology"
	"github.com/oriys/jana2go/internal/worker"
)

func runCmd() *cobra.Command {
	var (
		nthreads   int
		nevents    uint64
		wiringFile string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the event-processing engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("nthreads") {
				cfg.Engine.NThreads = nthreads
			}
			if cmd.Flags().Changed("nevents") {
				cfg.Engine.NEvents = nevents
			}
			if cmd.Flags().Changed("wiring") {
				cfg.Engine.WiringFile = wiringFile
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if cfg.Engine.NThreads <= 0 {
				cfg.Engine.NThreads = runtime.NumCPU()
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx := context.Background()
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(ctx)

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			mapping := affinity.Initialize(cfg.Engine.Affinity, cfg.Engine.Locality, cfg.Engine.NThreads)

			topo, _, _, err := buildDemoTopology(cfg.Engine, mapping)
			if err != nil {
				writeExit(report.ExitConfigurationError, err)
				return err
			}

			if err := topo.Freeze(); err != nil {
				writeExit(report.ExitConfigurationError, err)
				return err
			}

			depthFunc := func(a arrow.Arrow) int { return topo.UpstreamDepth(a.Name()) }
			sched := scheduler.New(topo.Arrows(), depthFunc)

			registry := metrics.NewRegistry()
			defer registry.Close()

			sup := supervisor.New(cfg.Engine, sched, registry)
			pool := worker.NewPool(cfg.Engine.NThreads, sched, registry, sup, cfg.Engine, mapping.GetLocID)
			sup.SetPool(pool)

			sh := signalhandler.Install(sup)
			defer sh.Stop()

			runID := report.NewRunID()
			logging.Op().Info("starting run", "run_id", runID, "nthreads", cfg.Engine.NThreads)

			started := time.Now()
			runErr := sup.Run(ctx)
			finished := time.Now()

			exitCode := report.ExitOK
			if runErr != nil {
				exitCode = report.ExitUserComponentFailure
			}
			summary := report.Build(runID, started, finished, registry.Snapshot(), exitCode, runErr)
			_ = summary.WriteJSON(os.Stdout)

			if runErr != nil {
				return runErr
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&nthreads, "nthreads", 0, "Number of worker threads (0 = Ncores)")
	cmd.Flags().Uint64Var(&nevents, "nevents", 0, "Number of events to process (0 = unlimited)")
	cmd.Flags().StringVar(&wiringFile, "wiring", "", "Path to a TOML wiring file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override")

	return cmd
}

func writeExit(code int, err error) {
	summary := report.Build(report.NewRunID(), time.Now(), time.Now(), metrics.Summary{}, code, err)
	_ = summary.WriteJSON(os.Stderr)
}

// buildDemoTopology wires a minimal, self-contained pipeline (a
// counting source, a map stage that forwards each event unchanged, and
// a logging sink) used to smoke
// test the engine end to end when no plugin has been loaded via a
// wiring file. Real deployments supply their own sources/factories/
// processors through the registry package instead of this function.
func buildDemoTopology(cfg config.EngineConfig, mapping *affinity.ProcessorMapping) (*topology.Topology, arrow.Arrow, arrow.Arrow, error) {
	topo := topology.New()
	nloc := mapping.NLocations()

	in := mailbox.New("demo.counts", nloc, cfg.EventQueueThreshold, mailbox.WithStealing(cfg.EnableStealing))
	out := mailbox.New("demo.doubled", nloc, cfg.EventQueueThreshold, mailbox.WithStealing(cfg.EnableStealing))

	src := arrow.NewSourceArrow("demo.source", &countingEmitter{max: cfg.NEvents}, in, cfg.SourceChunksize)
	doubler := arrow.NewMapArrow("demo.doubler", in, out, func(ev *event.Event) (*event.Event, error) {
		return ev, nil
	}, cfg.ProcessorChunksize)
	sink := arrow.NewSinkArrow("demo.sink", out, []arrow.Processor{arrow.FuncProcessor(func(ev *event.Event) error {
		logging.Op().Debug("event processed", "event_number", ev.EventNumber())
		return nil
	})}, noopRetirer{}, cfg.ProcessorChunksize)

	for _, err := range []error{
		topo.RegisterArrow(src),
		topo.RegisterArrow(doubler),
		topo.RegisterArrow(sink),
		topo.RegisterMailbox("demo.counts", in),
		topo.RegisterMailbox("demo.doubled", out),
		topo.WireProduces("demo.source", "demo.counts", false),
		topo.WireConsumes("demo.doubler", "demo.counts", false),
		topo.WireProduces("demo.doubler", "demo.doubled", false),
		topo.WireConsumes("demo.sink", "demo.doubled", false),
	} {
		if err != nil {
			return nil, nil, nil, err
		}
	}

	return topo, src, sink, nil
}

type countingEmitter struct {
	n   uint64
	max uint64
}

func (c *countingEmitter) Emit(location int) (*event.Event, error) {
	if c.max > 0 && c.n >= c.max {
		return nil, arrow.ErrExhausted
	}
	n := c.n
	c.n++
	return event.New(event.LevelEvent, n, 1, "demo.source", nil), nil
}

type noopRetirer struct{}

func (noopRetirer) Retire(ev *event.Event) {}
