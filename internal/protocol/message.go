package protocol

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var ErrMalformed = errors.New("malformed transfer message")

type Message interface {
	Kind() Kind
}

type FileDescriptor struct {
	FileIndex    int
	FileName     string
	FileSize     int64
	MimeType     string
	RelativePath string
	TotalChunks  int
}

// DisplayPath is the path the file takes inside a bundle.
func (d FileDescriptor) DisplayPath() string {
	if d.RelativePath != "" {
		return d.RelativePath
	}
	return d.FileName
}

type FileMetadata struct {
	BatchID         string
	Files           []FileDescriptor
	TotalFiles      int
	TotalSize       int64
	ContainsFolders bool
}

func (FileMetadata) Kind() Kind { return KindMetadata }

// Validate checks the batch is self-consistent: indices are positional and
// the totals match the descriptors.
func (m *FileMetadata) Validate() error {
	if m.TotalFiles != len(m.Files) {
		return fmt.Errorf("%w: totalFiles %d but %d descriptors", ErrMalformed, m.TotalFiles, len(m.Files))
	}

	var size int64
	folders := false
	for i, f := range m.Files {
		if f.FileIndex != i {
			return fmt.Errorf("%w: descriptor %d has index %d", ErrMalformed, i, f.FileIndex)
		}
		if f.FileSize < 0 || f.TotalChunks < 0 {
			return fmt.Errorf("%w: descriptor %d has negative size", ErrMalformed, i)
		}
		if f.FileName == "" {
			return fmt.Errorf("%w: descriptor %d has no name", ErrMalformed, i)
		}
		size += f.FileSize
		if f.RelativePath != "" {
			folders = true
		}
	}

	if size != m.TotalSize {
		return fmt.Errorf("%w: totalSize %d but files sum to %d", ErrMalformed, m.TotalSize, size)
	}
	if folders != m.ContainsFolders {
		return fmt.Errorf("%w: containsFolders does not match descriptors", ErrMalformed)
	}
	return nil
}

type Chunk struct {
	FileIndex    int
	Start        int64
	End          int64
	Data         []byte
	FileName     string
	RelativePath string
}

func (Chunk) Kind() Kind { return KindChunk }

func (c *Chunk) Validate() error {
	if c.FileIndex < 0 || c.Start < 0 {
		return fmt.Errorf("%w: negative chunk position", ErrMalformed)
	}
	if c.End-c.Start != int64(len(c.Data)) {
		return fmt.Errorf("%w: chunk range [%d,%d) carries %d bytes", ErrMalformed, c.Start, c.End, len(c.Data))
	}
	return nil
}

type Complete struct {
	Success bool
}

func (Complete) Kind() Kind { return KindComplete }

// CleanRelativePath normalizes a slash-separated relative path and rejects
// absolute paths and paths that climb out of their root.
func CleanRelativePath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") || (len(p) > 1 && p[1] == ':') {
		return "", fmt.Errorf("%w: absolute path %q", ErrMalformed, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: path %q escapes its folder", ErrMalformed, p)
	}
	return cleaned, nil
}
