package repair

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"sensorfix/internal/progress"
)

// StageResult is the outcome of one attempted stage.
type StageResult struct {
	Stage    StageID       `json:"stage"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Result describes a whole repair pass. Stages lists only the stages that
// were attempted.
type Result struct {
	Defect   string        `json:"defect"`
	OK       bool          `json:"ok"`
	Stages   []StageResult `json:"stages"`
	Err      error         `json:"-"`
	Started  time.Time     `json:"started_at"`
	Finished time.Time     `json:"finished_at"`
}

// Apply runs the remediation and reports whether every attempted stage
// succeeded. Nothing escapes: failures surface as false plus the progress
// updates sent to sink.
func (f *Fix) Apply(ctx context.Context, sink progress.Sink) bool {
	return f.Run(ctx, sink).OK
}

// Run is Apply with the per-stage detail kept. Stages run in order and the
// first failure stops the pass. ctx is checked before each stage only; a
// stage already running is never interrupted.
func (f *Fix) Run(ctx context.Context, sink progress.Sink) Result {
	if sink == nil {
		sink = progress.Discard
	}
	res := Result{Defect: f.defect.Name, Started: time.Now()}
	f.log.Info().Strs("stages", stageNames(f.defect.Stages)).Msg("applying fix")

	res.OK = true
	for _, id := range f.defect.Stages {
		if err := ctx.Err(); err != nil {
			f.log.Warn().Err(err).Str("stage", string(id)).Msg("fix cancelled before stage")
			res.OK, res.Err = false, err
			break
		}

		sr, err := f.runStage(ctx, id, sink)
		res.Stages = append(res.Stages, sr)
		if f.deps.Observer != nil {
			f.deps.Observer.ObserveStage(f.defect.Name, string(id), sr.OK)
		}
		if !sr.OK {
			res.OK = false
			res.Err = err
			break
		}
	}

	res.Finished = time.Now()
	elapsed := res.Finished.Sub(res.Started)
	ev := f.log.Info()
	if !res.OK {
		ev = f.log.Warn().AnErr("cause", res.Err)
	}
	ev.Bool("ok", res.OK).Dur("elapsed", elapsed).Msg("fix finished")
	if f.deps.Observer != nil {
		f.deps.Observer.ObserveRepair(f.defect.Name, res.OK, elapsed)
	}
	return res
}

// runStage executes one stage and turns errors and panics into a failed
// result plus an indeterminate progress update carrying the message.
func (f *Fix) runStage(ctx context.Context, id StageID, sink progress.Sink) (sr StageResult, err error) {
	sr.Stage = id
	start := time.Now()
	log := f.log.With().Str("stage", string(id)).Logger()
	r := &run{fix: f, sink: sink, log: log}

	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
			log.Error().Err(err).Str("stack", string(debug.Stack())).Msg("stage panicked")
		}
		sr.Duration = time.Since(start)
		if err != nil {
			sr.OK = false
			sr.Error = err.Error()
			if !errors.Is(err, ErrIntegrityBlocked) {
				sink.Report(progress.Indeterminate(err.Error()))
			}
		}
		logStage(log, sr.OK, err)
		if !sr.OK && err == nil {
			err = &StageError{Stage: id}
			sr.Error = err.Error()
		}
	}()

	stage, ok := stages[id]
	if !ok {
		return sr, fmt.Errorf("unknown stage %q", id)
	}
	log.Debug().Msg("stage starting")
	sr.OK, err = stage(ctx, r)
	return sr, err
}

// StageError reports a stage that completed but did not succeed. The stage
// logged the offending nodes itself.
type StageError struct {
	Stage StageID
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s failed", e.Stage) }

func logStage(log zerolog.Logger, ok bool, err error) {
	if ok {
		log.Info().Msg("stage succeeded")
		return
	}
	log.Warn().Err(err).Msg("stage failed")
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", p)
}

func stageNames(ids []StageID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
