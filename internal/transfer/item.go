package transfer

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

// Item is one local file selected for sending.
type Item struct {
	Path         string
	Name         string
	RelativePath string
	Size         int64
	MimeType     string
}

// CollectItems expands paths into items. Plain files are sent flat; a folder
// is walked and each file in it keeps its path relative to the folder's
// parent, so "docs/a.txt" for a file a.txt inside a selected folder docs.
func CollectItems(paths ...string) ([]Item, error) {
	var items []Item

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}

		if !info.IsDir() {
			items = append(items, newItem(p, "", info.Size()))
			continue
		}

		root := filepath.Clean(p)
		base := filepath.Base(root)
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			items = append(items, newItem(path, filepath.ToSlash(filepath.Join(base, rel)), fi.Size()))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}

	return items, nil
}

func newItem(path, rel string, size int64) Item {
	name := filepath.Base(path)
	return Item{
		Path:         path,
		Name:         name,
		RelativePath: rel,
		Size:         size,
		MimeType:     mimeType(name),
	}
}

func mimeType(name string) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if t == "" {
		return protocol.DefaultMimeType
	}
	return t
}

// Batch is one logical transfer: the ordered descriptors plus totals.
type Batch struct {
	ID              string
	Files           []protocol.FileDescriptor
	TotalFiles      int
	TotalSize       int64
	ContainsFolders bool
}

func newBatch(id string, items []Item, chunkSize int) *Batch {
	b := &Batch{ID: id, TotalFiles: len(items)}

	for i, it := range items {
		mt := it.MimeType
		if mt == "" {
			mt = protocol.DefaultMimeType
		}
		b.Files = append(b.Files, protocol.FileDescriptor{
			FileIndex:    i,
			FileName:     it.Name,
			FileSize:     it.Size,
			MimeType:     mt,
			RelativePath: it.RelativePath,
			TotalChunks:  chunkCount(it.Size, chunkSize),
		})
		b.TotalSize += it.Size
		if it.RelativePath != "" {
			b.ContainsFolders = true
		}
	}
	return b
}

func batchFromMetadata(m *protocol.FileMetadata) *Batch {
	return &Batch{
		ID:              m.BatchID,
		Files:           m.Files,
		TotalFiles:      m.TotalFiles,
		TotalSize:       m.TotalSize,
		ContainsFolders: m.ContainsFolders,
	}
}

func (b *Batch) metadata() *protocol.FileMetadata {
	return &protocol.FileMetadata{
		BatchID:         b.ID,
		Files:           b.Files,
		TotalFiles:      b.TotalFiles,
		TotalSize:       b.TotalSize,
		ContainsFolders: b.ContainsFolders,
	}
}

// TotalChunks is the number of chunk messages the batch takes.
func (b *Batch) TotalChunks() int {
	n := 0
	for _, f := range b.Files {
		n += f.TotalChunks
	}
	return n
}

func chunkCount(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	c := int64(chunkSize)
	return int((size + c - 1) / c)
}
