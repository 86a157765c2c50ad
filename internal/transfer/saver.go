package transfer

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Saver writes the artifacts of a completed batch and returns the paths it
// created.
type Saver interface {
	Save(ctx context.Context, batch *Batch, artifacts []Artifact) ([]string, error)
}

// DirSaver saves into a directory. A single flat file is written under its
// own name; anything else becomes one zip bundle that keeps the relative
// folder structure. Output is written to a temp file first and renamed into
// place, and existing names are never overwritten.
type DirSaver struct {
	Dir    string
	Logger logrus.FieldLogger
}

func (d *DirSaver) Save(ctx context.Context, batch *Batch, artifacts []Artifact) ([]string, error) {
	if len(artifacts) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", d.Dir, err)
	}

	var (
		name  string
		write func(f *os.File) error
		size  int64
	)
	if bundled(artifacts) {
		name = UniqueName(bundleName(batch, artifacts), d.exists)
		write = func(f *os.File) error { return writeBundle(ctx, f, artifacts) }
		for _, a := range artifacts {
			size += int64(len(a.Data))
		}
	} else {
		a := artifacts[0]
		name = UniqueName(a.Descriptor.FileName, d.exists)
		write = func(f *os.File) error {
			_, err := f.Write(a.Data)
			return err
		}
		size = int64(len(a.Data))
	}

	final := filepath.Join(d.Dir, name)
	if err := writeAtomic(final, write); err != nil {
		return nil, err
	}

	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"path":  final,
			"files": len(artifacts),
			"size":  humanize.IBytes(uint64(size)),
		}).Info("Saved transfer")
	}
	return []string{final}, nil
}

func (d *DirSaver) exists(name string) bool {
	_, err := os.Lstat(filepath.Join(d.Dir, name))
	return err == nil
}

func writeAtomic(final string, write func(f *os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(final), ".peer-drop-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", final, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", final, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", final, err)
	}
	return nil
}

func writeBundle(ctx context.Context, f *os.File, artifacts []Artifact) error {
	zw := zip.NewWriter(f)
	taken := make(map[string]bool, len(artifacts))
	now := time.Now()

	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := UniqueName(a.Path(), func(n string) bool { return taken[n] })
		taken[name] = true

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			return err
		}
		if _, err := w.Write(a.Data); err != nil {
			return err
		}
	}
	return zw.Close()
}
