package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bankfeed/bankfeed/internal/database"
	"github.com/bankfeed/bankfeed/internal/database/repository"
)

// Scheduler periodically scans every active configuration. Configurations
// run in parallel; files within one configuration run strictly sequentially.
// A per-configuration run-lock prevents two overlapping cycles from
// double-processing when a previous run is still in flight.
type Scheduler struct {
	Configs  *repository.ConfigRepo
	Scanner  *Scanner
	Importer *ImportService
	Log      *log.Logger

	locks sync.Map // config id -> *sync.Mutex
}

// CycleStats summarizes one scan-and-process cycle.
type CycleStats struct {
	Configs   int
	Skipped   int
	Files     int
	Succeeded int
	Failed    int
}

// Run loops until ctx is cancelled, recovering stale pending attempts once
// at startup and then scanning on every tick.
func (s *Scheduler) Run(ctx context.Context, tick, pendingGrace time.Duration) error {
	if n, err := s.Importer.RecoverStale(ctx, pendingGrace); err != nil {
		return err
	} else if n > 0 {
		s.logf("recovered %d stale pending attempts", n)
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		stats := s.RunCycle(ctx, false)
		if stats.Files > 0 {
			s.logf("cycle: %d files (%d ok, %d failed) across %d configurations",
				stats.Files, stats.Succeeded, stats.Failed, stats.Configs)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle processes every active configuration once. With force set,
// per-configuration scan intervals are ignored. Errors in one configuration
// never abort the others.
func (s *Scheduler) RunCycle(ctx context.Context, force bool) CycleStats {
	configs, err := s.Configs.ListActive(ctx)
	if err != nil {
		s.logf("list configurations: %v", err)
		return CycleStats{}
	}

	var (
		mu    sync.Mutex
		stats CycleStats
		wg    sync.WaitGroup
	)
	stats.Configs = len(configs)
	for _, cfg := range configs {
		if !force && !due(cfg) {
			continue
		}
		wg.Add(1)
		go func(cfg repository.ImportConfig) {
			defer wg.Done()
			cs, skipped := s.runConfig(ctx, cfg)
			mu.Lock()
			defer mu.Unlock()
			if skipped {
				stats.Skipped++
				return
			}
			stats.Files += cs.Files
			stats.Succeeded += cs.Succeeded
			stats.Failed += cs.Failed
		}(cfg)
	}
	wg.Wait()
	return stats
}

// ProcessConfig runs one configuration immediately, respecting the run-lock.
func (s *Scheduler) ProcessConfig(ctx context.Context, cfg repository.ImportConfig) (CycleStats, error) {
	stats, skipped := s.runConfig(ctx, cfg)
	if skipped {
		return stats, errors.New("a run for this configuration is already in flight")
	}
	return stats, nil
}

func (s *Scheduler) runConfig(ctx context.Context, cfg repository.ImportConfig) (CycleStats, bool) {
	lock := s.lockFor(cfg.ID)
	if !lock.TryLock() {
		s.logf("%s: previous run still in flight, skipping", cfg.Name)
		return CycleStats{}, true
	}
	defer lock.Unlock()

	var stats CycleStats
	if err := s.Configs.TouchLastRun(ctx, cfg.ID, database.Now()); err != nil {
		s.logf("%s: record last run: %v", cfg.Name, err)
	}

	candidates, err := s.Scanner.Candidates(ctx, cfg)
	if err != nil {
		// One configuration-level error; the other configurations continue.
		s.logf("%s: %v", cfg.Name, err)
		return stats, false
	}

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return stats, false
		}
		stats.Files++
		attempt, err := s.Importer.ProcessFile(ctx, cfg, cand, nil)
		switch {
		case errors.Is(err, ErrAlreadyPending):
			stats.Files--
		case attempt.Status == repository.StatusSuccess:
			stats.Succeeded++
			s.logf("%s: imported %s (%d transactions, %d reconciled)",
				cfg.Name, cand.Name, attempt.TxCount, attempt.MatchedCount)
		default:
			stats.Failed++
			s.logf("%s: import of %s failed: %v", cfg.Name, cand.Name, err)
		}
	}
	return stats, false
}

func (s *Scheduler) lockFor(configID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(configID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func due(cfg repository.ImportConfig) bool {
	if cfg.LastRun == nil || cfg.ScanInterval <= 0 {
		return true
	}
	return time.Since(*cfg.LastRun) >= cfg.ScanInterval
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.Log != nil {
		s.Log.Printf(format, args...)
	}
}
