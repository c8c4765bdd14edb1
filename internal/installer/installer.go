// Package installer runs external driver installation processes under a
// fixed time ceiling.
package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCeiling bounds every install process.
const DefaultCeiling = 60 * time.Second

// TimeoutError reports an install process killed at the ceiling.
type TimeoutError struct {
	Name    string
	Ceiling time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not finish within %s and was killed", e.Name, e.Ceiling)
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ExecRunner starts processes with os/exec. Cancelling the caller's context
// does not interrupt a running install; only the ceiling does.
type ExecRunner struct {
	Log     zerolog.Logger
	Ceiling time.Duration
}

func NewExecRunner(log zerolog.Logger) *ExecRunner {
	return &ExecRunner{Log: log, Ceiling: DefaultCeiling}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	ceiling := r.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ceiling)
	defer cancel()

	var output bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = 2 * time.Second

	log := r.Log.With().Str("process", name).Strs("args", args).Logger()
	log.Info().Dur("ceiling", ceiling).Msg("starting install process")
	start := time.Now()

	err := cmd.Run()
	elapsed := time.Since(start)
	if runCtx.Err() == context.DeadlineExceeded {
		log.Error().Dur("elapsed", elapsed).Msg("install process timed out")
		return &TimeoutError{Name: name, Ceiling: ceiling}
	}
	if err != nil {
		out := strings.TrimSpace(output.String())
		log.Error().Err(err).Str("output", out).Dur("elapsed", elapsed).Msg("install process failed")
		if out != "" {
			return fmt.Errorf("%s: %w: %s", name, err, out)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Info().Dur("elapsed", elapsed).Msg("install process finished")
	return nil
}
