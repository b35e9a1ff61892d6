package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/marketnews/internal/config"
	"github.com/elonfeng/marketnews/internal/logging"
	"github.com/elonfeng/marketnews/internal/pipeline"
	"github.com/elonfeng/marketnews/internal/queue"
	"github.com/elonfeng/marketnews/internal/retry"
	"github.com/elonfeng/marketnews/internal/scheduler"
	"github.com/elonfeng/marketnews/internal/store"
	"github.com/elonfeng/marketnews/pkg/alert"
	"github.com/elonfeng/marketnews/pkg/analyzer"
	"github.com/elonfeng/marketnews/pkg/digest"
	"github.com/elonfeng/marketnews/pkg/scraper"
	"github.com/elonfeng/marketnews/pkg/server"
	"github.com/elonfeng/marketnews/pkg/source"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app holds the collaborators shared by every command.
type app struct {
	cfg    *config.Config
	logger *log.Logger
	db     store.Store
	queue  queue.Queue
	alerts *alert.Manager
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	db, err := store.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	q, err := queue.New(ctx, cfg.Queue)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}

	alerts := alert.FromConfig(cfg.Alerts, cfg.Location())
	if !alerts.HasNotifiers() {
		logger.Warn().Msg("no notifiers configured; alerts and digests will not be delivered")
	}

	return &app{cfg: cfg, logger: logger, db: db, queue: q, alerts: alerts}, nil
}

func (a *app) Close() {
	if err := a.queue.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close queue")
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close store")
	}
}

func (a *app) retryPolicy() retry.Policy {
	p := retry.Default()
	if a.cfg.Analysis.Retry.Attempts > 0 {
		p.Attempts = a.cfg.Analysis.Retry.Attempts
	}
	p.BaseDelay = a.cfg.Analysis.Retry.ParseBaseDelay()
	return p
}

func (a *app) poller() (*pipeline.Poller, error) {
	sources := source.Sources(a.cfg.News, a.logger)
	if len(sources) == 0 {
		return nil, errors.New("no news sources enabled")
	}
	filter := source.NewFilter(a.cfg.News.PaywallTopics)
	return pipeline.NewPoller(sources, filter, a.db, a.queue, a.cfg.Location(), a.logger), nil
}

func (a *app) processor(ctx context.Context) (*pipeline.Processor, error) {
	providers, err := analyzer.NewProviders(ctx, a.cfg.Analysis)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	if len(providers) == 0 {
		return nil, errors.New("no analyzer providers configured")
	}
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name() + "/" + p.Model()
	}
	a.logger.Info().Strs("providers", names).Bool("allow_partial", a.cfg.Analysis.AllowPartial).Msg("analyzers ready")

	policy := a.retryPolicy()
	orch := analyzer.NewOrchestrator(providers, a.logger,
		analyzer.WithRetry(policy),
		analyzer.WithAllowPartial(a.cfg.Analysis.AllowPartial),
	)

	scr := scraper.New(a.cfg.Scraper, a.logger)
	if scr == nil {
		a.logger.Warn().Msg("no scraper configured; articles will be marked scrape failed")
	}

	return pipeline.NewProcessor(pipeline.ProcessorConfig{
		Store:        a.db,
		Scraper:      scr,
		Orchestrator: orch,
		Alerts:       a.alerts,
		Queue:        a.queue,
		Threshold:    a.cfg.Analysis.ImpactThreshold,
		Retry:        policy,
		Logger:       a.logger,
	}), nil
}

func (a *app) digestRunner() *pipeline.DigestRunner {
	schedule := digest.NewSchedule(a.cfg.Location(), a.cfg.Digest.ParseTolerance())
	return pipeline.NewDigestRunner(a.db, schedule, a.alerts, a.cfg.Digest.DisplayLimit, a.logger)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runPoll(force bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.poller()
	if err != nil {
		return err
	}
	stats, err := p.Poll(ctx, force)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	return printJSON(stats)
}

func runProcess(itemID int64) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	proc, err := a.processor(ctx)
	if err != nil {
		return err
	}
	report, err := proc.Process(ctx, itemID)
	if err != nil {
		return fmt.Errorf("process item %d: %w", itemID, err)
	}
	return printJSON(report)
}

func runWorker(workers int) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	proc, err := a.processor(ctx)
	if err != nil {
		return err
	}
	if workers <= 0 {
		workers = a.cfg.Queue.Workers
	}
	if err := scheduler.Work(ctx, a.queue, proc, workers, a.logger); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runDigest(digestType string, force, dryRun bool) error {
	if force && digestType == "" {
		return errors.New("--force requires --type")
	}
	if !force && (digestType != "" || dryRun) {
		return errors.New("--type and --dry-run require --force")
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := a.digestRunner()
	var report *pipeline.DigestReport
	if force {
		report, err = runner.Force(ctx, digest.Type(digestType), dryRun)
	} else {
		report, err = runner.Run(ctx)
	}
	if err != nil {
		return fmt.Errorf("digest: %w", err)
	}
	return printJSON(report)
}

func runEligibility(since, until string, jsonOutput bool) error {
	now := time.Now().UTC()
	start := now.Add(-24 * time.Hour)
	end := now
	if since != "" {
		t, err := source.ParseDate(since)
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		start = *t
	}
	if until != "" {
		t, err := source.ParseDate(until)
		if err != nil {
			return fmt.Errorf("--until: %w", err)
		}
		end = *t
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := pipeline.Eligibility(ctx, a.db, start, end, a.cfg.Analysis.ImpactThreshold)
	if err != nil {
		return fmt.Errorf("eligibility: %w", err)
	}

	if jsonOutput {
		return printJSON(rows)
	}

	if len(rows) == 0 {
		fmt.Println("no analyzed items in range (try: marketnews poll, then marketnews worker)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tELIGIBLE\tLEADER\tVOTES\tMIN IMPACT\tALERTED\tREASON\tTITLE")
	for _, r := range rows {
		d := r.Decision
		fmt.Fprintf(w, "%d\t%t\t%s\t%d/%d\t%.2f\t%t\t%s\t%s\n",
			r.ItemID, d.Eligible, d.Leader, d.LeaderCount, d.Required,
			d.MinImpact, r.Alerted, d.Reason, truncate(r.Title, 60))
	}
	return w.Flush()
}

func runServe(port int) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	srv := server.New(a.db, a.queue, a.cfg.Analysis.ImpactThreshold, port, a.logger)
	return srv.ListenAndServe(ctx)
}

func runDaemon(port int) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	poller, err := a.poller()
	if err != nil {
		return err
	}
	proc, err := a.processor(ctx)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(a.cfg.Schedule, a.cfg.Location(), poller, a.digestRunner(), a.logger)
	if err != nil {
		return err
	}
	srv := server.New(a.db, a.queue, a.cfg.Analysis.ImpactThreshold, port, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		if err := scheduler.Work(gctx, a.queue, proc, a.cfg.Queue.Workers, a.logger); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	err = g.Wait()
	a.logger.Info().Msg("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
