package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bankfeed/bankfeed/internal/database/repository"
)

// ErrConfigAccess marks a configuration whose watch folder cannot be read.
// It aborts only that configuration's cycle.
var ErrConfigAccess = errors.New("watch folder inaccessible")

// FileCandidate is a discovered file eligible for import.
type FileCandidate struct {
	Path        string
	Name        string
	Size        int64
	Fingerprint string
}

// Scanner discovers candidate files for a configuration. A file is a
// candidate when no attempt exists for its content yet, or the most recent
// attempt failed. Files with a successful or in-flight attempt are skipped.
type Scanner struct {
	Attempts *repository.AttemptRepo
}

// Candidates lists importable files under cfg.WatchDir matching cfg.Pattern.
func (s *Scanner) Candidates(ctx context.Context, cfg repository.ImportConfig) ([]FileCandidate, error) {
	paths, err := s.listMatching(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigAccess, err)
	}

	var out []FileCandidate
	for _, path := range paths {
		fp, size, err := FingerprintFile(path)
		if err != nil {
			// File vanished or turned unreadable between listing and hashing;
			// it will be picked up on the next cycle if it comes back.
			continue
		}
		latest, err := s.Attempts.FindLatest(ctx, cfg.ID, fp)
		if err != nil {
			return nil, err
		}
		if latest != nil && latest.Status != repository.StatusFailed {
			continue
		}
		out = append(out, FileCandidate{
			Path:        path,
			Name:        filepath.Base(path),
			Size:        size,
			Fingerprint: fp,
		})
	}
	return out, nil
}

func (s *Scanner) listMatching(cfg repository.ImportConfig) ([]string, error) {
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "*"
	}

	if !cfg.Recursive {
		entries, err := os.ReadDir(cfg.WatchDir)
		if err != nil {
			return nil, err
		}
		var paths []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ok, err := filepath.Match(pattern, e.Name())
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", pattern, err)
			}
			if ok {
				paths = append(paths, filepath.Join(cfg.WatchDir, e.Name()))
			}
		}
		return paths, nil
	}

	var paths []string
	err := filepath.WalkDir(cfg.WatchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The root being unreadable is fatal; a vanished subentry is not.
			if path == cfg.WatchDir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// FingerprintFile returns the SHA-256 of a file's content and its size.
// The fingerprint identifies a file regardless of its name or location.
func FingerprintFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), size, nil
}
