package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stampede/internal/collector"
	"stampede/internal/config"
	"stampede/internal/coordinator"
	"stampede/internal/core"
	"stampede/internal/discovery"
	httpexec "stampede/internal/http"
	"stampede/internal/logging"
	"stampede/internal/metrics"
	"stampede/internal/progress"
	"stampede/internal/ratelimit"
	"stampede/internal/source"
	"stampede/internal/stop"
)

type app struct {
	stdout io.Writer
	stderr io.Writer
	warmup time.Duration
}

func (a *app) run(ctx context.Context, fs *pflag.FlagSet, args []string) error {
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return withCode(ExitError, err)
	}

	logger, err := logging.New(a.stderr, logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Color:  isTerminal(a.stderr),
	})
	if err != nil {
		return withCode(ExitError, &config.ConfigError{Field: "logging", Err: err})
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Mode == config.ModeFile {
		if err := loadURLs(cfg, logger); err != nil {
			return withCode(ExitError, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return withCode(ExitError, err)
	}

	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	runID := ksuid.New().String()
	if !cfg.Quiet {
		printBanner(a.stderr, cfg, runID)
	}

	if !cfg.NoDelayedStart && a.warmup > 0 {
		select {
		case <-time.After(a.warmup):
		case <-ctx.Done():
			return nil
		}
	}

	return a.execute(ctx, cfg, runID, logger)
}

func (a *app) execute(ctx context.Context, cfg *config.RunConfig, runID string, logger *zap.Logger) error {
	var exporter *metrics.Exporter
	collOpts := []collector.Option{collector.WithLogger(logger, cfg.Verbose)}
	if cfg.MetricsAddr != "" {
		exporter = metrics.NewExporter(runID)
		collOpts = append(collOpts, collector.WithObserver(exporter))
	}

	src, engine, err := buildSource(cfg, logger)
	if err != nil {
		return withCode(ExitError, err)
	}

	execOpts := httpexec.Options{
		Timeout:            cfg.Timeout.Std(),
		DisableCompression: cfg.DisableCompression,
		UserAgent:          userAgent(cfg),
	}
	if cfg.BasicAuth != nil {
		execOpts.BasicAuth = &httpexec.BasicAuth{
			Username: cfg.BasicAuth.Username,
			Password: cfg.BasicAuth.Password,
		}
	}
	if engine != nil {
		execOpts.Retain = discovery.Wants
	}
	client := httpexec.NewClient(httpexec.ClientOptions{
		ConnectTimeout:  cfg.ConnectTimeout.Std(),
		FollowRedirects: cfg.FollowRedirects,
		Insecure:        cfg.Insecure,
		Concurrency:     cfg.Concurrency,
	})
	defer client.CloseIdleConnections()

	coll := collector.NewCollector(collOpts...)
	stopper := stop.NewController(stop.Options{
		Duration:    cfg.Duration.Std(),
		MaxRequests: cfg.MaxRequests,
	})

	coordCfg := coordinator.Config{
		Concurrency:     cfg.Concurrency,
		Source:          src,
		Executor:        httpexec.NewExecutor(client, execOpts, logger),
		Reporter:        coll,
		Stop:            stopper,
		RandomArguments: cfg.RandomArguments,
		Logger:          logger,
	}
	if engine != nil {
		coordCfg.Discovery = engine
	}
	if cfg.Rate > 0 {
		coordCfg.RateLimiter = ratelimit.NewRateLimiter(cfg.Rate)
	}

	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	var g errgroup.Group
	if exporter != nil {
		coordCfg.InFlight = exporter.InFlight()
		ln, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return withCode(ExitError, fmt.Errorf("metrics listener: %w", err))
		}
		logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
		g.Go(func() error { return exporter.Serve(serveCtx, ln) })
	}

	prog := progress.NewProgress(coll, cfg.ProgressInterval.Std(), cfg.Quiet)
	prog.SetOutput(a.stderr)

	release := context.AfterFunc(ctx, func() {
		prog.Print("Stopping in-flight requests...")
	})
	defer release()

	prog.Start()
	runErr := coordinator.NewCoordinator(coordCfg).Run(ctx)
	prog.Stop()
	coll.Close()

	cancelServe()
	if err := g.Wait(); err != nil {
		logger.Warn("metrics server failed", zap.Error(err))
	}

	m := coll.Compute()
	m.RunID = runID
	m.StopReason = string(stopper.Reason())

	var results *collector.ThresholdResults
	if cfg.Thresholds != nil {
		results = cfg.Thresholds.Check(m)
	}

	if cfg.Output == "json" {
		if err := collector.FormatJSON(a.stdout, m, results); err != nil {
			return withCode(ExitError, fmt.Errorf("writing report: %w", err))
		}
	} else {
		collector.FormatText(a.stdout, m, cfg.Concurrency, results)
	}

	if runErr != nil {
		if errors.Is(runErr, coordinator.ErrNoReachableTarget) {
			logger.Error("no target could be resolved", zap.Strings("hosts", cfg.Hosts()))
		}
		return withCode(ExitError, runErr)
	}
	if stopper.Reason() == stop.ReasonInterrupted {
		return nil
	}
	if results != nil && !results.Passed {
		return withCode(ExitThresholdFailed, errThresholdsFailed)
	}
	return nil
}

// loadURLs reads the URL file in file mode and defaults the allowed domains
// to the listed hosts.
func loadURLs(cfg *config.RunConfig, logger *zap.Logger) error {
	urls, issues, err := config.LoadURLFile(cfg.Target)
	for _, issue := range issues {
		logger.Warn("skipping invalid URL",
			zap.String("file", cfg.Target),
			zap.Int("line", issue.Line),
			zap.String("text", issue.Text),
			zap.Error(issue.Err),
		)
	}
	if err != nil {
		return err
	}
	cfg.URLs = urls
	if len(cfg.AllowedDomains) == 0 {
		cfg.AllowedDomains = cfg.Hosts()
	}
	return nil
}

func buildSource(cfg *config.RunConfig, logger *zap.Logger) (source.Source, *discovery.Engine, error) {
	item := core.WorkItem{
		URL:     cfg.Target,
		Method:  cfg.Method,
		Headers: cfg.Headers,
		Body:    cfg.Body,
	}

	switch cfg.Mode {
	case config.ModeSingle:
		return source.NewSingle(item), nil, nil
	case config.ModeFile:
		items := make([]core.WorkItem, len(cfg.URLs))
		for i, u := range cfg.URLs {
			items[i] = item
			items[i].URL = u
		}
		return source.NewFile(items), nil, nil
	}

	policy, err := discovery.ParseQueryPolicy(cfg.DedupeQuery)
	if err != nil {
		return nil, nil, &config.ConfigError{Field: "dedupe query", Err: err}
	}
	hosts := cfg.Hosts()
	if len(hosts) == 0 {
		return nil, nil, &config.ConfigError{Field: "url", Err: fmt.Errorf("no host in %q", cfg.Target)}
	}

	frontier := source.NewFrontier(item)
	engine := discovery.NewEngine(discovery.Config{
		SeedHost:          hosts[0],
		AllowedDomains:    cfg.AllowedDomains,
		PreventDuplicates: cfg.PreventDuplicates,
		Query:             policy,
		Template: core.WorkItem{
			Method:  cfg.Method,
			Headers: cfg.Headers,
			Body:    cfg.Body,
		},
	}, frontier, discovery.WithLogger(logger))
	engine.MarkVisited(cfg.Target)
	return frontier, engine, nil
}

func userAgent(cfg *config.RunConfig) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}
	return "stampede/" + version
}

func printBanner(w io.Writer, cfg *config.RunConfig, runID string) {
	fmt.Fprintf(w, "stampede %s, run %s\n", version, runID)
	if cfg.Mode == config.ModeFile {
		fmt.Fprintf(w, "  Target:       %s (%d URLs)\n", cfg.Target, len(cfg.URLs))
	} else {
		fmt.Fprintf(w, "  Target:       %s\n", cfg.Target)
	}
	fmt.Fprintf(w, "  Mode:         %s\n", cfg.Mode)
	fmt.Fprintf(w, "  Method:       %s\n", cfg.Method)
	fmt.Fprintf(w, "  Concurrency:  %d\n", cfg.Concurrency)
	fmt.Fprintf(w, "  Requests:     %s\n", limitString(cfg.MaxRequests > 0, fmt.Sprint(cfg.MaxRequests)))
	fmt.Fprintf(w, "  Duration:     %s\n", limitString(cfg.Duration > 0, cfg.Duration.String()))
	fmt.Fprintf(w, "  Timeouts:     connect %v, total %v\n", cfg.ConnectTimeout, cfg.Timeout)
	if cfg.Rate > 0 {
		fmt.Fprintf(w, "  Rate:         %d req/s\n", cfg.Rate)
	}
	if len(cfg.AllowedDomains) > 0 {
		fmt.Fprintf(w, "  Domains:      %s\n", strings.Join(cfg.AllowedDomains, ", "))
	}
	if cfg.Mode == config.ModeDiscover && cfg.PreventDuplicates {
		fmt.Fprintln(w, "  Duplicates:   prevented")
	}
	if cfg.RandomArguments {
		fmt.Fprintln(w, "  Random args:  enabled")
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:      http://%s/metrics\n", cfg.MetricsAddr)
	}
	if !cfg.NoDelayedStart {
		fmt.Fprintf(w, "Starting in %v...\n", warmup)
	}
}

func limitString(set bool, value string) string {
	if set {
		return value
	}
	return "unlimited"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && logging.IsTerminal(f)
}
