// Package store persists collected datasets: local files, a SQLite
// index of runs, and an optional object store copy.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergev/bci/trial"
)

// FileName returns the dataset file name for a run started at t,
// e.g. "eegdata_20250114_093512.npz"
func FileName(t time.Time, format Format) string {
	return fmt.Sprintf("eegdata_%s.%s", t.Format("20060102_150405"), format)
}

// Saver writes datasets under Root as <subject>/<kind>/eegdata_<time>.<ext>
type Saver struct {
	Root   string
	Format Format  // FormatNPZ when unset
	Index  *Index  // Optional
	Remote *Remote // Optional
	Log    *slog.Logger
	Now    func() time.Time // Defaults to time.Now
}

// Save writes the dataset and returns the file path.
// Failures to write the file are reported as ErrStorage. Failures of
// the index or the upload are logged, since the data itself is safe.
func (s *Saver) Save(ctx context.Context, data *trial.Dataset) (string, error) {
	if err := data.Check(); err != nil {
		return "", err
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	format := s.Format
	if format == FormatUnknown {
		format = FormatNPZ
	}

	dir := filepath.Join(s.Root, safeName(data.Subject), safeName(data.Kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: failed to create directory: %w", ErrStorage, err)
	}
	savedAt := now()
	filename, err := uniqueName(dir, FileName(savedAt, format))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if err := Write(filename, data); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	log.Info("dataset written", slog.String("path", filename), slog.String("run", data.RunID.String()))

	run := NewRun(data, filename, savedAt)
	if s.Remote != nil {
		key := s.Remote.Key(data.Subject, data.Kind, filename)
		if err := s.Remote.Upload(ctx, filename, key); err != nil {
			log.Warn("upload failed, dataset kept locally", slog.Any("error", err))
		} else {
			run.RemoteKey = key
		}
	}
	if s.Index != nil {
		if err := s.Index.Record(ctx, run); err != nil {
			log.Warn("failed to index run", slog.Any("error", err))
		}
	}
	return filename, nil
}

// uniqueName avoids overwriting a dataset saved within the same second
func uniqueName(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; i < 100; i++ {
		candidate := filepath.Join(dir, name)
		if i > 0 {
			candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		}
		_, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("too many datasets named %s in %s", name, dir)
}

// safeName makes a subject id or run kind usable as a path element
func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
