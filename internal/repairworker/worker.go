package repairworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"sensorfix/internal/progress"
	"sensorfix/internal/repair"
	"sensorfix/internal/sqlcgen"
)

// Queries is the minimal DB interface the repair worker needs.
// *sqlcgen.Queries satisfies this.
type Queries interface {
	ClaimNextRepairRun(ctx context.Context, stats map[string]any) (sqlcgen.RepairRun, error)
	UpdateRepairRun(ctx context.Context, arg sqlcgen.UpdateRepairRunParams) (sqlcgen.RepairRun, error)
	InsertRepairRunLog(ctx context.Context, arg sqlcgen.InsertRepairRunLogParams) error
}

// Fixes resolves a queued defect name. *repair.Registry satisfies this.
type Fixes interface {
	Get(name string) (*repair.Fix, bool)
}

type Worker struct {
	log          zerolog.Logger
	q            Queries
	fixes        Fixes
	pollInterval time.Duration
	maxRuntime   time.Duration
}

type Options struct {
	PollInterval time.Duration
	// MaxRuntime bounds a whole repair pass. It is only observed between
	// stages; an install process keeps its own ceiling.
	MaxRuntime time.Duration
}

func New(log zerolog.Logger, q Queries, fixes Fixes, opts Options) *Worker {
	pi := opts.PollInterval
	if pi <= 0 {
		pi = time.Second
	}
	mr := opts.MaxRuntime
	if mr <= 0 {
		mr = 10 * time.Minute
	}
	return &Worker{
		log:          log.With().Str("component", "repairworker").Logger(),
		q:            q,
		fixes:        fixes,
		pollInterval: pi,
		maxRuntime:   mr,
	}
}

// Run polls for queued repairs until ctx is done. Runs are processed one at
// a time.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.q == nil || w.fixes == nil {
		return
	}

	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		for {
			processed, err := w.runOnce(ctx)
			if err != nil {
				consecutiveFailures++
				break
			}
			consecutiveFailures = 0
			if !processed {
				break
			}
		}

		timer.Reset(backoffDuration(w.pollInterval, consecutiveFailures))
	}
}

func backoffDuration(base time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if failures <= 0 {
		return base
	}

	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

func (w *Worker) runOnce(ctx context.Context) (bool, error) {
	run, err := w.q.ClaimNextRepairRun(ctx, map[string]any{
		"stage": "running",
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		w.log.Error().Err(err).Msg("repair worker failed to claim next run")
		return false, err
	}

	log := w.log.With().Str("run_id", run.ID).Str("defect", run.Defect).Logger()
	log.Info().Msg("repair run claimed")

	execCtx, cancel := context.WithTimeout(ctx, w.maxRuntime)
	defer cancel()

	fix, ok := w.fixes.Get(run.Defect)
	if !ok {
		err := fmt.Errorf("unknown defect %q", run.Defect)
		_ = w.failRun(execCtx, run.ID, err.Error(), nil)
		return true, err
	}

	w.writeLog(execCtx, run.ID, "info", "repair run started")

	sink := progress.Tee(
		progress.LogSink{Log: log},
		&runLogSink{ctx: execCtx, w: w, runID: run.ID},
	)
	res := fix.Run(execCtx, sink)
	stats := resultStats(res)

	if !res.OK {
		msg := "repair did not complete"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		_ = w.failRun(execCtx, run.ID, msg, stats)
		return true, nil
	}

	completedAt := time.Now()
	stats["stage"] = "completed"
	if _, err := w.q.UpdateRepairRun(execCtx, sqlcgen.UpdateRepairRunParams{
		ID:          run.ID,
		Status:      "succeeded",
		Stats:       stats,
		CompletedAt: &completedAt,
		LastError:   nil,
	}); err != nil {
		log.Error().Err(err).Msg("failed to mark repair run succeeded")
		_ = w.failRun(execCtx, run.ID, err.Error(), stats)
		return true, err
	}

	w.writeLog(execCtx, run.ID, "info", "repair run completed")
	return true, nil
}

func resultStats(res repair.Result) map[string]any {
	stages := make([]map[string]any, 0, len(res.Stages))
	for _, sr := range res.Stages {
		s := map[string]any{
			"stage":       string(sr.Stage),
			"ok":          sr.OK,
			"duration_ms": sr.Duration.Milliseconds(),
		}
		if sr.Error != "" {
			s["error"] = sr.Error
		}
		stages = append(stages, s)
	}
	return map[string]any{
		"ok":          res.OK,
		"stages":      stages,
		"runtime_ms":  res.Finished.Sub(res.Started).Milliseconds(),
		"attempted":   len(res.Stages),
		"finished_at": res.Finished.UTC().Format(time.RFC3339Nano),
	}
}

func (w *Worker) failRun(ctx context.Context, runID string, errMsg string, stats map[string]any) error {
	if stats == nil {
		stats = map[string]any{}
	}
	stats["stage"] = "failed"
	stats["runtime_budget_ms"] = int(w.maxRuntime.Milliseconds())

	// Still mark the run failed when ctx is done so it does not stay
	// "running".
	if ctx == nil || ctx.Err() != nil {
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ctx = bg
	}

	completedAt := time.Now()
	lastErr := errMsg
	_, err := w.q.UpdateRepairRun(ctx, sqlcgen.UpdateRepairRunParams{
		ID:          runID,
		Status:      "failed",
		Stats:       stats,
		CompletedAt: &completedAt,
		LastError:   &lastErr,
	})
	if err != nil {
		w.log.Error().Err(err).Str("run_id", runID).Msg("failed to mark repair run failed")
		return err
	}

	w.writeLog(ctx, runID, "error", "repair run failed: "+errMsg)
	return nil
}

func (w *Worker) writeLog(ctx context.Context, runID, level, msg string) {
	if err := w.q.InsertRepairRunLog(ctx, sqlcgen.InsertRepairRunLogParams{
		RunID:   runID,
		Level:   level,
		Message: msg,
	}); err != nil {
		w.log.Warn().Err(err).Str("run_id", runID).Msg("failed to write repair run log")
	}
}

// runLogSink turns progress updates into run log rows.
type runLogSink struct {
	ctx   context.Context
	w     *Worker
	runID string
}

func (s *runLogSink) Report(u progress.Update) {
	msg := u.Title
	if !u.Indeterminate {
		msg = fmt.Sprintf("%s (%.0f%%)", u.Title, u.Fraction*100)
	}
	s.w.writeLog(s.ctx, s.runID, "info", msg)
}
