package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/metrics"
	"github.com/makkenzo/license-engine/internal/storage"
	"go.uber.org/zap"
)

const (
	Extension = ".lic"
	filePerm  = 0o644
	dirPerm   = 0o755
)

// Directory keeps one file per license, named after the license identifier.
type Directory struct {
	dir    string
	codec  *storage.Codec
	logger *zap.Logger
}

var _ license.Store = (*Directory)(nil)

func NewDirectory(dir string, codec *storage.Codec, logger *zap.Logger) (*Directory, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create license directory %s: %w", dir, err)
	}
	return &Directory{
		dir:    dir,
		codec:  codec,
		logger: logger.Named("DirectoryStore"),
	}, nil
}

func (d *Directory) Path() string {
	return d.dir
}

func (d *Directory) Store(ctx context.Context, l license.License) error {
	content, err := d.codec.Encode(l)
	if err != nil {
		return err
	}
	return writeAtomic(d.pathFor(l.ID()), content)
}

func (d *Directory) RetrieveAll(ctx context.Context) iter.Seq[license.License] {
	return func(yield func(license.License) bool) {
		entries, err := os.ReadDir(d.dir)
		if err != nil {
			d.logger.Error("Failed to list license directory", zap.String("dir", d.dir), zap.Error(err))
			metrics.StoreErrorsTotal.WithLabelValues("list").Inc()
			return
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.Type().IsRegular() && strings.HasSuffix(e.Name(), Extension) {
				names = append(names, e.Name())
			}
		}
		slices.Sort(names)

		for _, name := range names {
			if ctx.Err() != nil {
				return
			}
			l, err := readLicense(filepath.Join(d.dir, name), d.codec)
			if err != nil {
				d.logger.Warn("Skipping unreadable license file", zap.String("file", name), zap.Error(err))
				metrics.StoreErrorsTotal.WithLabelValues("read").Inc()
				continue
			}
			if !yield(l) {
				return
			}
		}
	}
}

func (d *Directory) Delete(ctx context.Context, id uuid.UUID) error {
	err := os.Remove(d.pathFor(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete license %s: %w", id, err)
	}
	return nil
}

func (d *Directory) pathFor(id uuid.UUID) string {
	return filepath.Join(d.dir, id.String()+Extension)
}

// Single keeps exactly one license in one file.
type Single struct {
	path   string
	codec  *storage.Codec
	logger *zap.Logger
}

var (
	_ license.Store      = (*Single)(nil)
	_ license.SingleSlot = (*Single)(nil)
)

func NewSingle(path string, codec *storage.Codec, logger *zap.Logger) *Single {
	return &Single{
		path:   path,
		codec:  codec,
		logger: logger.Named("SingleFileStore"),
	}
}

func (s *Single) Store(ctx context.Context, l license.License) error {
	content, err := s.codec.Encode(l)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return fmt.Errorf("failed to create license directory: %w", err)
	}
	return writeAtomic(s.path, content)
}

func (s *Single) RetrieveAll(ctx context.Context) iter.Seq[license.License] {
	return func(yield func(license.License) bool) {
		l, err := readLicense(s.path, s.codec)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("Skipping unreadable license file", zap.String("file", s.path), zap.Error(err))
				metrics.StoreErrorsTotal.WithLabelValues("read").Inc()
			}
			return
		}
		yield(l)
	}
}

func (s *Single) HoldsOne() bool { return true }

// Delete removes the whole file. A non-nil id limits that to a file still
// holding that license; one overwritten with another license is left alone.
func (s *Single) Delete(ctx context.Context, id uuid.UUID) error {
	l, err := readLicense(s.path, s.codec)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && id != uuid.Nil && l.ID() != id {
		s.logger.Debug("License file holds another license, keeping it",
			zap.Stringer("requested", id), zap.Stringer("stored", l.ID()))
		return nil
	}
	if err != nil {
		s.logger.Warn("Removing unreadable license file", zap.String("file", s.path), zap.Error(err))
	}

	err = os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete license file %s: %w", s.path, err)
	}
	return nil
}

func readLicense(path string, codec *storage.Codec) (license.License, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return codec.Decode(content)
}

func writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".license-*")
	if err != nil {
		return fmt.Errorf("failed to create temp license file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write license file: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod license file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close license file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move license file into place: %w", err)
	}
	return nil
}
