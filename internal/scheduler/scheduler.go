// Package scheduler is the pipeline's main loop: a tick-driven
// runtime that advances ingest, due contributor scans, and three
// parallel workstreams (crawl, detect, match) behind graceful shutdown
// and a startup stale-job reaper.
package scheduler

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"scanner/internal/cleanup"
	"scanner/internal/crawl"
	"scanner/internal/detect"
	"scanner/internal/evidence"
	"scanner/internal/ingest"
	"scanner/internal/logger"
	"scanner/internal/match"
	"scanner/internal/scan"
	"scanner/internal/store"
)

// Scheduler ties every workstream together behind one tick loop.
type Scheduler struct {
	Store store.Store

	Ingest  *ingest.Worker
	Scan    *scan.Worker
	Crawl   *crawl.Runner
	Detect  *detect.Dispatcher
	Match   *match.Engine
	Cleanup *cleanup.Worker

	TickInterval    time.Duration
	ScanBatchSize   int
	IngestBatchSize int
	MatchBatchSize  int
	StaleJobMaxAge  time.Duration

	cleanupMu   sync.Mutex
	lastCleanup time.Time
}

// New builds a Scheduler with TickInterval, batch sizes, and
// StaleJobMaxAge set to the standard configuration defaults; callers may
// overwrite those fields before Run.
func New(st store.Store, ingestW *ingest.Worker, scanW *scan.Worker, crawlR *crawl.Runner, detectD *detect.Dispatcher, matchE *match.Engine, cleanupW *cleanup.Worker) *Scheduler {
	return &Scheduler{
		Store:           st,
		Ingest:          ingestW,
		Scan:            scanW,
		Crawl:           crawlR,
		Detect:          detectD,
		Match:           matchE,
		Cleanup:         cleanupW,
		TickInterval:    60 * time.Second,
		ScanBatchSize:   25,
		IngestBatchSize: 25,
		MatchBatchSize:  200,
		StaleJobMaxAge:  60 * time.Minute,
	}
}

// Run starts the main loop, blocking until ctx is canceled or a
// termination signal is received. It performs the startup stale-job
// reaper before the first tick and a clean shutdown on exit.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	recovered, err := s.Store.Jobs().RecoverStale(ctx, s.StaleJobMaxAge)
	if err != nil {
		logger.ErrorEvent("scheduler_stale_job_recovery_failed", err).Send()
	} else if recovered > 0 {
		logger.Event("scheduler_stale_jobs_recovered").Int("count", recovered).Send()
	}

	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.tick(ctx); err != nil {
			logger.ErrorEvent("scheduler_tick_error", err).Send()
		}

		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-ticker.C:
		}
	}
}

// tick runs one full pass: ingest, due scans, then the three parallel
// workstreams, then hourly cleanup. The taxonomy mapper, honeypot
// detection, and ML-intelligence passes are external collaborators and
// are not dispatched here.
func (s *Scheduler) tick(ctx context.Context) error {
	if err := s.Ingest.RunTick(ctx, s.IngestBatchSize); err != nil {
		logger.ErrorEvent("scheduler_ingest_failed", err).Send()
	}

	if err := s.Scan.RunDue(ctx, time.Now(), s.ScanBatchSize); err != nil {
		logger.ErrorEvent("scheduler_scan_failed", err).Send()
	}

	if err := s.runWorkstreams(ctx); err != nil {
		return err
	}

	s.maybeRunCleanup(ctx)

	logger.Event("scheduler_tick_complete").Send()
	return nil
}

// runWorkstreams dispatches crawl, detect, and match concurrently and
// waits for all three. Each workstream's error is logged independently so
// one failing stream never prevents the others from completing.
func (s *Scheduler) runWorkstreams(ctx context.Context) error {
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	g.Go(func() error {
		if err := s.Detect.RunTick(gctx); err != nil {
			logger.ErrorEvent("scheduler_detect_failed", err).Send()
		}
		return nil
	})
	g.Go(func() error {
		if err := s.Match.RunTick(gctx, s.MatchBatchSize); err != nil {
			logger.ErrorEvent("scheduler_match_failed", err).Send()
		}
		return nil
	})
	g.Go(func() error {
		if err := s.Crawl.RunDue(gctx, time.Now()); err != nil {
			logger.ErrorEvent("scheduler_crawl_failed", err).Send()
		}
		return nil
	})

	return g.Wait()
}

// maybeRunCleanup runs the retention pass at most once per hour.
func (s *Scheduler) maybeRunCleanup(ctx context.Context) {
	s.cleanupMu.Lock()
	due := time.Since(s.lastCleanup) >= time.Hour
	if due {
		s.lastCleanup = time.Now()
	}
	s.cleanupMu.Unlock()

	if !due {
		return
	}
	if err := s.Cleanup.Run(ctx); err != nil {
		logger.ErrorEvent("scheduler_cleanup_failed", err).Send()
	}
}

// shutdown marks any still-running jobs interrupted and closes the
// evidence-capture browser singleton.
func (s *Scheduler) shutdown() error {
	logger.Event("scheduler_shutdown_begin").Send()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n, err := s.Store.Jobs().InterruptRunning(ctx); err != nil {
		logger.ErrorEvent("scheduler_interrupt_jobs_failed", err).Send()
	} else if n > 0 {
		logger.Event("scheduler_jobs_interrupted").Int("count", n).Send()
	}

	if err := evidence.Shutdown(); err != nil {
		logger.ErrorEvent("scheduler_evidence_shutdown_failed", err).Send()
	}
	logger.Event("scheduler_shutdown_complete").Send()
	return nil
}
