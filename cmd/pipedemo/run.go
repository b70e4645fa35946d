package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LiboWorks/pipedemo/internal/channel"
	"github.com/LiboWorks/pipedemo/internal/config"
	"github.com/LiboWorks/pipedemo/internal/controller"
	pipeerr "github.com/LiboWorks/pipedemo/internal/errors"
	"github.com/LiboWorks/pipedemo/internal/logging"
	"github.com/LiboWorks/pipedemo/internal/message"
	"github.com/LiboWorks/pipedemo/internal/metrics"
	"github.com/LiboWorks/pipedemo/internal/output"
	"github.com/LiboWorks/pipedemo/internal/worker"
)

var (
	configFile    string
	spawnMode     string
	interval      time.Duration
	maxLines      int
	drainTimeout  time.Duration
	messageSource string
	messagePrefix string
	messages      []string
	openAIModel   string
	transcriptDir string
	metricsAddr   string
	logLevel      string
	logDev        bool
)

// workerGrace is how long a worker gets to exit on its own after the
// controller closes its ends.
const workerGrace = 2 * time.Second

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [flags] [-- filter [args...]]",
	Short: "Run the exchange loop against a filter program",
	Long: `Run creates the two pipes, starts the filter program on the far side and
loops: send one line, poll once for a line coming back, wait one interval.

Sent lines are printed as "TX | ..." and received lines as "RX | ..." on
stdout; logs and errors go to stderr. The loop ends when the message source is
exhausted and every line has come back, on SIGINT or SIGTERM, or on the first
pipe error. The exit status is 0 in every one of those cases.

Settings are read from the config file, then PIPEDEMO_* environment
variables, then flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runExchange(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "pipedemo: %v\n", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "YAML config file")
	f.StringVar(&spawnMode, "mode", "", "Worker spawn mode: bootstrap or direct")
	f.DurationVar(&interval, "interval", 0, "Delay between loop iterations (default 250ms)")
	f.IntVarP(&maxLines, "max-lines", "n", 0, "Stop after sending this many lines (0 = unlimited)")
	f.DurationVar(&drainTimeout, "drain-timeout", 0, "How long to wait for outstanding lines at the end (default 2s)")
	f.StringVar(&messageSource, "source", "", "Message source: counter, static or openai")
	f.StringVar(&messagePrefix, "prefix", "", `Prefix of counter lines (default "Line: ")`)
	f.StringArrayVarP(&messages, "message", "m", nil, "Message for the static source (repeatable)")
	f.StringVar(&openAIModel, "openai-model", "", "Chat model for the openai source")
	f.StringVar(&transcriptDir, "transcript-dir", "", "Append tx.log and rx.log to this directory")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.BoolVar(&logDev, "log-dev", false, "Human-readable development logs")
}

// loadConfig applies the flags set on the command line and the filter argv
// on top of the loaded configuration. Flags left at their defaults do not
// override the file or the environment; flags that were set do, zero values
// included.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	cfg.WithFilter(args...)

	f := cmd.Flags()
	if f.Changed("mode") {
		cfg.SpawnMode = spawnMode
	}
	if f.Changed("interval") {
		cfg.Interval = interval
	}
	if f.Changed("max-lines") {
		cfg.MaxLines = maxLines
	}
	if f.Changed("drain-timeout") {
		cfg.DrainTimeout = drainTimeout
	}
	if f.Changed("source") {
		cfg.MessageSource = messageSource
	}
	if f.Changed("prefix") {
		cfg.MessagePrefix = messagePrefix
	}
	if f.Changed("message") {
		cfg.Messages = messages
	}
	if f.Changed("openai-model") {
		cfg.OpenAIModel = openAIModel
	}
	if f.Changed("transcript-dir") {
		cfg.TranscriptDir = transcriptDir
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if f.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if f.Changed("log-dev") {
		cfg.LogDev = logDev
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runExchange runs one exchange to completion. Channel failures that end
// the loop are rendered by the display and are not returned; the returned
// error covers everything the display never saw.
func runExchange(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	log, err := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Development: cfg.LogDev,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	runID := ulid.Make().String()
	log = log.With(zap.String("run_id", runID))

	src, err := message.FromConfig(cfg)
	if err != nil {
		return err
	}
	mode, err := worker.ParseMode(cfg.SpawnMode)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var displayOpts []output.DisplayOption
	if cfg.TranscriptDir != "" {
		tr, err := output.OpenTranscript(cfg.TranscriptDir, runID)
		if err != nil {
			return err
		}
		defer tr.Close()
		displayOpts = append(displayOpts, output.WithTranscript(tr))
	}

	d, err := channel.Create()
	if err != nil {
		m.Failed(err)
		return err
	}
	defer d.Close()

	proc, err := worker.Spawn(ctx, d, worker.Spec{
		Mode:   mode,
		Argv:   cfg.Filter,
		Stderr: stderr,
		Log:    log,
	})
	if err != nil {
		m.Failed(err)
		return err
	}
	defer reap(proc, log)

	ctrl := controller.New(d,
		controller.WithLogger(log),
		controller.WithMetrics(m),
		controller.WithInterval(cfg.Interval),
		controller.WithDrainTimeout(cfg.DrainTimeout))
	if err := ctrl.Initialize(); err != nil {
		return err
	}
	defer ctrl.Close()

	log.Info("Exchange started",
		zap.Int("worker_pid", proc.Pid()),
		zap.String("mode", string(mode)),
		zap.Strings("filter", cfg.Filter))

	display := output.NewDisplay(stdout, stderr, displayOpts...)
	events := make(chan controller.Event, 64)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var loopErr error
	g.Go(func() error {
		defer cancel()
		defer close(events)
		loopErr = ctrl.Run(gctx, src, func(e controller.Event) { events <- e })
		return nil
	})
	g.Go(func() error {
		return display.Consume(events)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, cfg.MetricsAddr, reg, log); err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}
	groupErr := g.Wait()

	log.Info("Exchange finished",
		zap.Int("sent", display.Count(controller.EventSent)),
		zap.Int("received", display.Count(controller.EventReceived)),
		zap.NamedError("cause", loopErr))

	switch {
	case loopErr == nil, errors.Is(loopErr, context.Canceled), errors.Is(loopErr, context.DeadlineExceeded):
	case pipeerr.KindOf(loopErr) != pipeerr.KindUnknown:
		// Already rendered from the EventFailed event.
	default:
		return errors.Join(loopErr, groupErr)
	}
	return groupErr
}

// reap gives the worker a short grace period to exit after its stdin has
// been closed, then kills it.
func reap(proc *worker.Process, log *zap.Logger) {
	select {
	case <-proc.Done():
	case <-time.After(workerGrace):
		log.Warn("Worker still running, killing it", zap.Int("pid", proc.Pid()))
		_ = proc.Kill()
		<-proc.Done()
	}
	if code := proc.ExitCode(); code == worker.ExitReplacementFailed {
		log.Error("Worker could not start the filter program", zap.Int("exit_code", code))
	}
}
