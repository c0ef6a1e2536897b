// Package backup keeps a rotating set of full-file copies of the event store.
//
// Generations live next to the store as <base>.backup<i><ext>, with 1 the
// newest. A snapshot drops the oldest generation, shifts the others one slot
// older and copies the live store into generation 1.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Checkpointer flushes pending writes into the main store file so that a
// plain file copy is complete.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Options configures a Rotator.
type Options struct {
	// Count is the number of generations to keep. Zero disables backups.
	Count        int
	Checkpointer Checkpointer
	Logger       *slog.Logger
}

// Rotator snapshots one store file.
type Rotator struct {
	path   string
	opts   Options
	logger *slog.Logger
}

// New creates a Rotator for the store at path.
func New(path string, opts Options) *Rotator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Rotator{path: path, opts: opts, logger: logger}
}

// Generation returns the file path of generation i.
func (r *Rotator) Generation(i int) string {
	ext := filepath.Ext(r.path)
	base := strings.TrimSuffix(r.path, ext)
	return fmt.Sprintf("%s.backup%d%s", base, i, ext)
}

// Snapshot rotates the generations and copies the store into generation 1.
// It is a no-op when backups are disabled or the store does not exist yet.
//
// Every failure is logged. The first error is returned so callers can
// report it, but a failed rotation step does not stop the copy.
func (r *Rotator) Snapshot(ctx context.Context) error {
	if r.opts.Count <= 0 {
		return nil
	}
	if _, err := os.Stat(r.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return r.fail("stat store", err)
	}

	var firstErr error
	record := func(step string, err error) {
		wrapped := r.fail(step, err)
		if firstErr == nil {
			firstErr = wrapped
		}
	}

	if r.opts.Checkpointer != nil {
		if err := r.opts.Checkpointer.Checkpoint(ctx); err != nil {
			record("checkpoint", err)
		}
	}

	if err := r.removeFrom(r.opts.Count); err != nil {
		record("remove oldest", err)
	}

	for i := r.opts.Count - 1; i >= 1; i-- {
		src := r.Generation(i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, r.Generation(i+1)); err != nil {
			record("shift generation", err)
		}
	}

	if err := copyFile(r.path, r.Generation(1)); err != nil {
		record("copy store", err)
		return firstErr
	}

	r.logger.Debug("store backup written", "path", r.Generation(1), "generations", r.opts.Count)
	return firstErr
}

// Generations lists existing generation numbers in ascending order.
func (r *Rotator) Generations() ([]int, error) {
	ext := filepath.Ext(r.path)
	prefix := filepath.Base(strings.TrimSuffix(r.path, ext)) + ".backup"

	entries, err := os.ReadDir(filepath.Dir(r.path))
	if err != nil {
		return nil, fmt.Errorf("failed to list backup directory: %w", err)
	}

	var gens []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext))
		if err != nil || n < 1 {
			continue
		}
		gens = append(gens, n)
	}
	slices.Sort(gens)
	return gens, nil
}

// removeFrom deletes generation n and every stray generation above it, left
// behind when the configured count shrank.
func (r *Rotator) removeFrom(n int) error {
	gens, err := r.Generations()
	if err != nil {
		return err
	}
	var errs []error
	for _, g := range gens {
		if g < n {
			continue
		}
		if err := os.Remove(r.Generation(g)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Rotator) fail(step string, err error) error {
	wrapped := fmt.Errorf("backup %s: %w", step, err)
	r.logger.Warn("store backup step failed", "step", step, "path", r.path, "err", err)
	return wrapped
}

// copyFile copies src to dst through a temporary file so dst is never left
// half written.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(tmp)
		return copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return closeErr
	}
	return os.Rename(tmp, dst)
}
