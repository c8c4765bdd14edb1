// Package probe reads the sensor runtime's numeric device status.
//
// The runtime is optional. Every way of failing to read it (missing module,
// missing symbol, helper crash, unparsable output) is reported as
// ErrUnavailable, which callers treat as "not confirmed".
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrUnavailable = errors.New("device status probe unavailable")

// StatusProvider reports the sensor runtime's last known status.
type StatusProvider interface {
	DeviceStatus(ctx context.Context) (Status, error)
}

// Confirms reports whether p is available and currently reports want,
// along with the status it read. Every failure, including a nil provider,
// comes back wrapping ErrUnavailable and never confirms.
func Confirms(ctx context.Context, p StatusProvider, want Status, log zerolog.Logger) (bool, Status, error) {
	if p == nil {
		return false, StatusUndefined, ErrUnavailable
	}
	got, err := p.DeviceStatus(ctx)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = errors.Join(ErrUnavailable, err)
		}
		log.Debug().Err(err).Str("want", want.String()).Msg("status probe unavailable")
		return false, StatusUndefined, err
	}
	log.Debug().Str("status", got.String()).Str("want", want.String()).Msg("status probe")
	return got == want, got, nil
}

// Static always reports the same result.
type Static struct {
	Status Status
	Err    error
}

func (s Static) DeviceStatus(context.Context) (Status, error) {
	if s.Err != nil {
		return StatusUndefined, s.Err
	}
	return s.Status, nil
}

// Unavailable is a provider for hosts without the sensor runtime.
func Unavailable() StatusProvider {
	return Static{Err: ErrUnavailable}
}

const defaultCommandTimeout = 5 * time.Second

// Command runs an external helper that prints the status as a decimal
// integer on stdout.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

func (c Command) DeviceStatus(ctx context.Context) (Status, error) {
	if strings.TrimSpace(c.Path) == "" {
		return StatusUndefined, fmt.Errorf("%w: no helper configured", ErrUnavailable)
	}
	path, err := exec.LookPath(c.Path)
	if err != nil {
		return StatusUndefined, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(runCtx, path, c.Args...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return StatusUndefined, fmt.Errorf("%w: helper: %v", ErrUnavailable, err)
	}
	return ParseStatus(stdout.String())
}

// ParseStatus reads the first whitespace-separated token of out as a status.
func ParseStatus(out string) (Status, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return StatusUndefined, fmt.Errorf("%w: empty helper output", ErrUnavailable)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return StatusUndefined, fmt.Errorf("%w: helper output %q", ErrUnavailable, fields[0])
	}
	return Status(n), nil
}

// Module loads a native library and calls an exported status function. It
// is only available on Windows.
type Module struct {
	Path   string
	Symbol string
}

// DefaultModuleSymbol is the export the sensor handler library provides.
const DefaultModuleSymbol = "DeviceStatus"

func (m Module) symbol() string {
	if m.Symbol == "" {
		return DefaultModuleSymbol
	}
	return m.Symbol
}
