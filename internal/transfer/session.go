package transfer

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

// Artifact is one reassembled file waiting to be saved.
type Artifact struct {
	Descriptor protocol.FileDescriptor
	Data       []byte
}

// Path is where the artifact lands inside a bundle.
func (a Artifact) Path() string {
	return a.Descriptor.DisplayPath()
}

// Session is the receive-side state of one connection.
type Session struct {
	ID     string
	PeerID string

	State            State
	Batch            *Batch
	CurrentFileIndex int
	BytesReceived    int64
	ChunksReceived   int
	LastActivity     time.Time

	buf       bytes.Buffer
	artifacts []Artifact
}

func newSession(id, peerID string) *Session {
	return &Session{ID: id, PeerID: peerID, State: StateIdle}
}

type chunkProgress struct {
	FileIndex int
	File      float64
	Batch     float64
}

// handleMetadata starts a new batch. Any declared file over maxItemSize is
// refused before a byte of it is buffered.
func (s *Session) handleMetadata(m *protocol.FileMetadata, maxItemSize int64, now time.Time) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.TotalFiles == 0 {
		return fmt.Errorf("%w: empty batch", protocol.ErrMalformed)
	}

	files := make([]protocol.FileDescriptor, len(m.Files))
	for i, f := range m.Files {
		name, err := cleanFileName(f.FileName)
		if err != nil {
			return err
		}
		rel, err := protocol.CleanRelativePath(f.RelativePath)
		if err != nil {
			return err
		}
		if maxItemSize > 0 && f.FileSize > maxItemSize {
			return &tooLargeError{Name: name, Size: f.FileSize, Max: maxItemSize}
		}
		f.FileName, f.RelativePath = name, rel
		if f.MimeType == "" {
			f.MimeType = protocol.DefaultMimeType
		}
		files[i] = f
	}

	s.reset()
	s.State = StatePreparing
	s.Batch = batchFromMetadata(m)
	s.Batch.Files = files
	s.LastActivity = now
	return nil
}

func (s *Session) handleChunk(c *protocol.Chunk, now time.Time) (chunkProgress, error) {
	if s.State != StateTransferring {
		return chunkProgress{}, fmt.Errorf("%w: chunk while %s", protocol.ErrMalformed, s.State)
	}
	if c.FileIndex >= s.Batch.TotalFiles || c.FileIndex < s.CurrentFileIndex {
		return chunkProgress{}, fmt.Errorf("%w: chunk for file %d while on file %d", protocol.ErrMalformed, c.FileIndex, s.CurrentFileIndex)
	}

	for s.CurrentFileIndex < c.FileIndex {
		if err := s.finalizeCurrent(); err != nil {
			return chunkProgress{}, err
		}
		s.CurrentFileIndex++
	}

	desc := s.Batch.Files[c.FileIndex]
	held := int64(s.buf.Len())
	if c.Start != held {
		return chunkProgress{}, fmt.Errorf("%w: chunk starts at %d, expected %d", protocol.ErrMalformed, c.Start, held)
	}
	if c.End > desc.FileSize {
		return chunkProgress{}, fmt.Errorf("%w: chunk ends at %d past declared size %d", protocol.ErrMalformed, c.End, desc.FileSize)
	}

	s.buf.Write(c.Data)
	s.BytesReceived += int64(len(c.Data))
	s.ChunksReceived++
	s.LastActivity = now

	p := chunkProgress{FileIndex: c.FileIndex, File: 100}
	if desc.FileSize > 0 {
		p.File = float64(c.End) / float64(desc.FileSize) * 100
	}
	p.Batch = min((float64(c.FileIndex)+p.File/100)/float64(s.Batch.TotalFiles)*100, sendProgressCeiling)
	return p, nil
}

// handleComplete finalizes the last file and any empty files after it and
// hands back every artifact in batch order.
func (s *Session) handleComplete(c *protocol.Complete, now time.Time) ([]Artifact, error) {
	if s.State != StateTransferring {
		return nil, fmt.Errorf("%w: completion while %s", protocol.ErrMalformed, s.State)
	}
	if !c.Success {
		return nil, ErrTransferAborted
	}
	s.State = StateCompleting
	s.LastActivity = now

	for ; s.CurrentFileIndex < s.Batch.TotalFiles; s.CurrentFileIndex++ {
		if err := s.finalizeCurrent(); err != nil {
			return nil, err
		}
	}
	return s.artifacts, nil
}

func (s *Session) finalizeCurrent() error {
	desc := s.Batch.Files[s.CurrentFileIndex]
	if int64(s.buf.Len()) != desc.FileSize {
		return fmt.Errorf("%w: %s has %d of %d bytes", ErrIncompleteTransfer, desc.DisplayPath(), s.buf.Len(), desc.FileSize)
	}

	data := make([]byte, s.buf.Len())
	copy(data, s.buf.Bytes())
	s.artifacts = append(s.artifacts, Artifact{Descriptor: desc, Data: data})
	s.buf.Reset()
	return nil
}

// shortOnClose reports whether the file in progress holds fewer bytes than
// declared.
func (s *Session) shortOnClose() bool {
	if s.State != StateTransferring || s.CurrentFileIndex >= s.Batch.TotalFiles {
		return false
	}
	return int64(s.buf.Len()) < s.Batch.Files[s.CurrentFileIndex].FileSize
}

// remainingChunks is the number of chunks still expected.
func (s *Session) remainingChunks() int {
	if s.Batch == nil {
		return 0
	}
	return max(s.Batch.TotalChunks()-s.ChunksReceived, 0)
}

func (s *Session) reset() {
	s.State = StateIdle
	s.Batch = nil
	s.CurrentFileIndex = 0
	s.BytesReceived = 0
	s.ChunksReceived = 0
	s.buf = bytes.Buffer{}
	s.artifacts = nil
}

func cleanFileName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		return "", fmt.Errorf("%w: bad file name %q", protocol.ErrMalformed, name)
	}
	return base, nil
}
