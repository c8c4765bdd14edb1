// Package bundle relocates a driver bundle from the shipped driver directory
// into a scratch directory under the file names its INF expects, and moves
// it back afterwards.
package bundle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sensorfix/internal/catalog"
)

// Staged is a bundle currently relocated into a scratch directory. Restore
// must run on every exit path; it is safe to call more than once.
type Staged struct {
	Dir    string
	INF    string
	source string
	moved  []catalog.File
	log    zerolog.Logger
	done   bool
}

// NewScratchDir creates an upper-case uuid named directory under root (the
// OS temp directory when root is empty).
func NewScratchDir(root string) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, strings.ToUpper(uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// Stage moves every file of b from sourceDir into scratchDir under its
// staged name. On error the files already moved are put back before Stage
// returns.
func Stage(sourceDir, scratchDir string, b catalog.Bundle, log zerolog.Logger) (*Staged, error) {
	s := &Staged{
		Dir:    scratchDir,
		INF:    filepath.Join(scratchDir, b.INF),
		source: sourceDir,
		log:    log.With().Str("role", string(b.Role)).Str("scratch", scratchDir).Logger(),
	}
	for _, f := range b.Files {
		from := filepath.Join(sourceDir, f.Source)
		to := filepath.Join(scratchDir, f.Staged)
		if err := move(from, to); err != nil {
			restoreErr := s.Restore()
			return nil, errors.Join(fmt.Errorf("stage %s: %w", f.Source, err), restoreErr)
		}
		s.moved = append(s.moved, f)
	}
	s.log.Debug().Int("files", len(s.moved)).Msg("bundle staged")
	return s, nil
}

// Restore moves every staged file back to its original name. It attempts
// every file and returns the joined errors.
func (s *Staged) Restore() error {
	if s == nil || s.done {
		return nil
	}
	s.done = true

	var errs []error
	for i := len(s.moved) - 1; i >= 0; i-- {
		f := s.moved[i]
		if err := move(filepath.Join(s.Dir, f.Staged), filepath.Join(s.source, f.Source)); err != nil {
			s.log.Error().Err(err).Str("file", f.Source).Msg("restore bundle file failed")
			errs = append(errs, fmt.Errorf("restore %s: %w", f.Source, err))
		}
	}
	s.moved = nil
	if len(errs) == 0 {
		s.log.Debug().Msg("bundle restored")
	}
	return errors.Join(errs...)
}

// move renames from to to, falling back to copy and remove when the two
// paths are on different volumes. It never replaces an existing entry at to.
func move(from, to string) error {
	if _, err := os.Lstat(to); err == nil {
		return fmt.Errorf("move %s: %w", to, os.ErrExist)
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(from, to); err == nil {
		return nil
	} else if _, statErr := os.Stat(from); statErr != nil {
		return err
	}

	in, err := os.Open(from)
	if err != nil {
		return err
	}
	info, err := in.Stat()
	if err != nil {
		in.Close()
		return err
	}
	out, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		in.Close()
		return err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	in.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(to)
		return err
	}
	return os.Remove(from)
}
