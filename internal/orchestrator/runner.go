package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"meanrev-trader/internal/detector"
	"meanrev-trader/internal/model"
	"meanrev-trader/internal/store/sqlite"
)

// Locker is an optional cross-process lock. The in-process per-symbol
// mutexes already serialize instruments within one engine; a Locker extends
// that guarantee across replicas. A symbol whose lock is held elsewhere is
// skipped for the tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// RunnerConfig tunes the tick schedule.
type RunnerConfig struct {
	// TickOffset delays each tick past the 4h bar boundary so the closed
	// bar's indicators have settled in the store. Default 15m.
	TickOffset time.Duration

	// LockTTL bounds how long a crashed replica can hold a symbol.
	LockTTL time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.TickOffset == 0 {
		c.TickOffset = 15 * time.Minute
	}
	if c.LockTTL == 0 {
		c.LockTTL = 10 * time.Minute
	}
	return c
}

// Runner executes one orchestration tick per 4-hour bar across the active
// instrument universe.
type Runner struct {
	store  *sqlite.Store
	orch   *Orchestrator
	log    *slog.Logger
	locker Locker // may be nil
	cfg    RunnerConfig

	mu       sync.Mutex
	symLocks map[string]*sync.Mutex

	now func() time.Time
}

// NewRunner creates a runner. locker may be nil for single-process setups.
func NewRunner(store *sqlite.Store, orch *Orchestrator, locker Locker, log *slog.Logger, cfg RunnerConfig) *Runner {
	return &Runner{
		store:    store,
		orch:     orch,
		log:      log,
		locker:   locker,
		cfg:      cfg.withDefaults(),
		symLocks: make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// Run ticks at each 4h bar boundary plus the settle offset until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	for {
		next := r.nextTick(r.now())
		r.log.Info("next orchestration tick", slog.Time("at", next))

		t := time.NewTimer(next.Sub(r.now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		r.RunOnce(ctx)
	}
}

// nextTick returns the first bar-boundary-plus-offset strictly after now.
func (r *Runner) nextTick(now time.Time) time.Time {
	base := now.UTC().Truncate(model.BarInterval)
	next := base.Add(r.cfg.TickOffset)
	if !next.After(now) {
		next = next.Add(model.BarInterval)
	}
	return next
}

// RunOnce performs a full tick: resume and exit-check live positions in
// parallel, then rank the fresh signals and enter them in priority order.
func (r *Runner) RunOnce(ctx context.Context) {
	start := r.now()

	instruments, err := r.store.ActiveInstruments()
	if err != nil {
		r.log.Error("tick aborted: cannot load instruments", slog.String("error", err.Error()))
		return
	}
	if m := r.orch.metrics; m != nil {
		m.InstrumentsActive.Set(float64(len(instruments)))
	}

	var (
		candMu     sync.Mutex
		candidates []detector.Candidate
		byInst     = make(map[string]model.Instrument, len(instruments))
		wg         sync.WaitGroup
	)
	for _, inst := range instruments {
		byInst[inst.Symbol] = inst
		wg.Add(1)
		go func(inst model.Instrument) {
			defer wg.Done()
			cand := r.processInstrument(ctx, inst)
			if cand != nil {
				candMu.Lock()
				candidates = append(candidates, *cand)
				candMu.Unlock()
			}
		}(inst)
	}
	wg.Wait()

	fresh := r.recordSignals(candidates)
	detector.Rank(fresh)

	// Entries submit sequentially in rank order so simultaneous signals
	// compete for margin deterministically; fill waits run in parallel.
	var fillWG sync.WaitGroup
	for _, cand := range fresh {
		inst := byInst[cand.Signal.Symbol]
		pos, err := withSymbolLock(r, ctx, cand.Signal.Symbol, func() (*model.Position, error) {
			return r.orch.SubmitEntry(ctx, cand, inst)
		})
		if err != nil {
			r.log.Error("entry failed", slog.String("symbol", cand.Signal.Symbol), slog.String("error", err.Error()))
			continue
		}
		if pos == nil {
			continue
		}
		fillWG.Add(1)
		go func(pos *model.Position) {
			defer fillWG.Done()
			if _, err := withSymbolLock(r, ctx, pos.Symbol, func() (*model.Position, error) {
				return nil, r.orch.AwaitFill(ctx, pos)
			}); err != nil {
				r.log.Error("fill wait failed", slog.String("symbol", pos.Symbol), slog.String("error", err.Error()))
			}
		}(pos)
	}
	fillWG.Wait()

	r.updateOpenPositions(instruments)
	if m := r.orch.metrics; m != nil {
		m.TickDuration.Observe(r.now().Sub(start).Seconds())
	}
}

// processInstrument advances one instrument's live position if it has one,
// or evaluates the detector if it does not. Returns a candidate only for
// instruments free to enter.
func (r *Runner) processInstrument(ctx context.Context, inst model.Instrument) *detector.Candidate {
	cand, err := withSymbolLock(r, ctx, inst.Symbol, func() (*detector.Candidate, error) {
		return r.tickInstrument(ctx, inst)
	})
	if err != nil {
		r.log.Error("instrument tick failed", slog.String("symbol", inst.Symbol), slog.String("error", err.Error()))
		return nil
	}
	return cand
}

func (r *Runner) tickInstrument(ctx context.Context, inst model.Instrument) (*detector.Candidate, error) {
	bars, err := r.store.LatestBars(inst.Symbol, 2)
	if err != nil {
		return nil, err
	}

	var prev, curr *model.Bar
	if len(bars) >= 1 {
		curr = &bars[0]
	}
	if len(bars) >= 2 {
		prev = &bars[1]
	}

	live, err := r.store.LivePosition(inst.Symbol)
	if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
		return nil, err
	}
	if live != nil {
		// Exit conditions read the current bar; a missing bar still lets
		// the time exit and external-close paths run.
		return nil, r.orch.ManagePosition(ctx, live, curr)
	}

	if prev == nil || curr == nil {
		r.log.Debug("insufficient bar history", slog.String("symbol", inst.Symbol))
		return nil, nil
	}
	return detector.Evaluate(*prev, *curr), nil
}

// recordSignals archives every candidate idempotently and returns only the
// ones this tick recorded first. A duplicate means another replica (or a
// redelivered bar) already owns the signal.
func (r *Runner) recordSignals(cands []detector.Candidate) []detector.Candidate {
	fresh := cands[:0]
	for _, cand := range cands {
		inserted, err := r.store.RecordSignalIfAbsent(cand.Signal)
		if err != nil {
			r.log.Error("signal archive write failed", slog.String("symbol", cand.Signal.Symbol), slog.String("error", err.Error()))
			continue
		}
		if m := r.orch.metrics; m != nil {
			if inserted {
				m.SignalsDetected.Inc()
			} else {
				m.SignalsDuplicate.Inc()
			}
		}
		if inserted {
			r.log.Info("signal recorded",
				slog.String("symbol", cand.Signal.Symbol),
				slog.String("direction", string(cand.Signal.Direction)),
				slog.Float64("zscore", cand.Signal.ZScore))
			fresh = append(fresh, cand)
		}
	}
	return fresh
}

func (r *Runner) updateOpenPositions(instruments []model.Instrument) {
	m := r.orch.metrics
	if m == nil {
		return
	}
	var open int
	for _, inst := range instruments {
		if _, err := r.store.LivePosition(inst.Symbol); err == nil {
			open++
		}
	}
	m.OpenPositions.Set(float64(open))
}

// withSymbolLock serializes fn on the symbol, both in-process and (when a
// Locker is configured) across replicas. A symbol held by another replica
// yields the zero value without error.
func withSymbolLock[T any](r *Runner, ctx context.Context, symbol string, fn func() (T, error)) (T, error) {
	var zero T

	r.mu.Lock()
	lock, ok := r.symLocks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		r.symLocks[symbol] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	if r.locker != nil {
		release, ok, err := r.locker.TryLock(ctx, symbol, r.cfg.LockTTL)
		if err != nil {
			return zero, err
		}
		if !ok {
			r.log.Debug("symbol locked by another replica", slog.String("symbol", symbol))
			return zero, nil
		}
		defer release()
	}
	return fn()
}
