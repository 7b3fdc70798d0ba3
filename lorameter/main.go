package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/namsral/flag"
	"golang.org/x/sync/errgroup"

	"github.com/itohio/lorameter/pkg/config"
	"github.com/itohio/lorameter/pkg/meter"
	"github.com/itohio/lorameter/pkg/metrics"
	"github.com/itohio/lorameter/pkg/payload"
	"github.com/itohio/lorameter/pkg/sample"
	"github.com/itohio/lorameter/pkg/uplink"
	"github.com/itohio/lorameter/pkg/web"
)

const appName = "lorameter"

var (
	version = "no version from LDFLAGS"

	// flags can also be set as LORAMETER_<NAME> environment variables
	flags = flag.NewFlagSetWithEnvPrefix(appName, "LORAMETER", flag.ExitOnError)

	configPath = flags.String("config", "config.yaml", "Configuration file path")
	envFile    = flags.String("env", ".env", "dotenv file with session keys")
	logLevel   = flags.String("log-level", "", "Log level override (debug, info, warn, error)")
	mockADC    = flags.Bool("mock", false, "Use the simulated sensor instead of the ADS1115")
	radio      = flags.String("radio", "", "Radio backend override (atmodem or semtech)")
	port       = flags.String("port", "", "Serial port override (e.g. /dev/ttyUSB0)")
	listen     = flags.String("listen", "", "HTTP status and metrics address override")
	fport      = flags.Uint("fport", 1, "FPort used by the decode sub-command")
)

func main() {
	flags.Parse(os.Args[1:])

	switch flags.Arg(0) {
	case "decode":
		os.Exit(decode(os.Stdout, uint8(*fport), flags.Args()[1:]))
	case "ports":
		os.Exit(listPorts(os.Stdout))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.LoadEnv(*envFile)
	applyOverrides(cfg)

	logger := newLogger(cfg.Log.Level)
	stdlog.SetOutput(log.NewStdlibAdapter(logger))

	level.Info(logger).Log("msg", "Starting app", "version", version)

	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// catch termination
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		level.Warn(logger).Log("msg", "received shutdown signal")
		cancel()
	}()

	code := run(ctx, cfg, logger)
	signal.Stop(interrupt)
	cancel()
	os.Exit(code)
}

// run wires the node and blocks until ctx is cancelled or the loop fails.
// Everything it opens is closed before it returns the exit code.
func run(ctx context.Context, cfg *config.Config, logger log.Logger) int {
	counters, err := openStore(ctx, cfg.Store)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open counter store", "error", err, "backend", cfg.Store.Backend, "path", cfg.Store.Path)
		return 2
	}
	defer counters.Close()

	dev, err := openADC(ctx, cfg, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to start the sensor", "error", fmt.Errorf("%w: adc: %w", uplink.ErrInitialization, err))
		return 2
	}
	defer dev.Close()

	session, err := openRadio(cfg, counters, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open the radio", "error", fmt.Errorf("%w: radio: %w", uplink.ErrInitialization, err))
		return 2
	}
	defer session.Close()

	creds, err := uplink.ParseCredentials(cfg.Session)
	if err != nil {
		level.Error(logger).Log("msg", "invalid session", "error", err)
		return 2
	}

	initial := uplink.DataRate(cfg.Uplink.InitialDataRate)
	if err := uplink.Activate(ctx, session, creds, initial, cfg.Uplink.DutyCycle); err != nil {
		// nothing can be sent without a session
		level.Error(logger).Log("msg", "failed to activate the session", "error", err, "dev_addr", creds.DevAddrString())
		return 2
	}

	encoder, err := payload.New(cfg.Uplink)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create the payload encoder", "error", err)
		return 2
	}

	opts := uplink.Options{
		Samples:     cfg.Sampling.Samples,
		Calibration: meter.CalibrationFromConfig(cfg.Calibration),
		Encoder:     encoder,
		Schedule:    uplink.NewSchedule(cfg.Uplink.BinWidth),
		Interval:    cfg.Uplink.Interval,
		Logger:      logger,
	}
	if cfg.Uplink.PersistSweep {
		opts.Store = counters
	}

	scheduler, err := uplink.New(sample.New(dev, nil), session, opts)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create the scheduler", "error", err)
		return 2
	}
	scheduler.OnUpdate(metrics.NewObserver().Update)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(ctx)
	})

	if cfg.Metrics.Listen != "" {
		s := web.NewServer(appName, logger, scheduler, nil)
		httpServer := &http.Server{
			Addr:         cfg.Metrics.Listen,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			Handler:      s.Router(),
		}

		g.Go(func() error {
			level.Info(logger).Log("msg", fmt.Sprintf("HTTP status server serving at %s", cfg.Metrics.Listen))

			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})

		g.Go(func() error {
			<-ctx.Done()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		level.Error(logger).Log("msg", "server returning an error", "error", err)
		return 2
	}
	return 0
}

func applyOverrides(cfg *config.Config) {
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *mockADC {
		cfg.ADC.Backend = "mock"
	}
	if *radio != "" {
		cfg.Radio.Backend = *radio
	}
	if *port != "" {
		cfg.Radio.Port = *port
	}
	if *listen != "" {
		cfg.Metrics.Listen = *listen
	}
}

func newLogger(lvl string) log.Logger {
	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "caller", log.DefaultCaller, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "app", appName)

	var opt level.Option
	switch lvl {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(logger, opt)
}
