package transfer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

type Sender struct {
	opts   Options
	logger logrus.FieldLogger
}

func NewSender(opts Options) *Sender {
	opts.setDefaults()
	return &Sender{opts: opts, logger: opts.Logger}
}

// SendBatch streams items over conn as one batch: a metadata message, every
// chunk of every file in order, then a completion message. Each chunk is
// sent before the next one is read. onProgress gets the overall percentage
// and onStatus every state change; either may be nil.
func (s *Sender) SendBatch(ctx context.Context, conn transport.Conn, items []Item, onProgress func(float64), onStatus func(State)) error {
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	if onStatus == nil {
		onStatus = func(State) {}
	}

	if len(items) == 0 {
		return ErrNoItems
	}
	for _, it := range items {
		if it.Size > s.opts.MaxItemSize {
			return &tooLargeError{Name: it.Name, Size: it.Size, Max: s.opts.MaxItemSize}
		}
	}

	batch := newBatch(uuid.NewString(), items, s.opts.ChunkSize)
	log := s.logger.WithFields(logrus.Fields{
		"batch": batch.ID,
		"peer":  conn.PeerID(),
		"files": batch.TotalFiles,
		"size":  batch.TotalSize,
	})

	err := s.send(ctx, conn, batch, items, onProgress, onStatus)
	if err != nil {
		log.WithError(err).Warn("Batch send failed")
		onStatus(StateError)
		s.opts.resetLater(func() { onStatus(StateIdle) })
		return err
	}

	log.Info("Batch sent")
	onStatus(StateCompleted)
	onProgress(100)
	s.opts.resetLater(func() { onStatus(StateIdle) })
	return nil
}

func (s *Sender) send(ctx context.Context, conn transport.Conn, batch *Batch, items []Item, onProgress func(float64), onStatus func(State)) error {
	onStatus(StatePreparing)
	if err := s.sendMessage(conn, batch.metadata()); err != nil {
		return fmt.Errorf("failed to send metadata: %w", err)
	}

	onStatus(StateTransferring)
	buf := make([]byte, s.opts.ChunkSize)
	var sent int64

	for i, it := range items {
		desc := batch.Files[i]
		err := s.sendFile(ctx, conn, it, desc, buf, func(n int) {
			sent += int64(n)
			if batch.TotalSize > 0 {
				onProgress(min(float64(sent)/float64(batch.TotalSize)*100, sendProgressCeiling))
			}
		})
		if err != nil {
			return err
		}
	}

	onStatus(StateCompleting)
	if err := s.sendMessage(conn, &protocol.Complete{Success: true}); err != nil {
		return fmt.Errorf("failed to send completion: %w", err)
	}
	return nil
}

func (s *Sender) sendFile(ctx context.Context, conn transport.Conn, it Item, desc protocol.FileDescriptor, buf []byte, sentChunk func(int)) error {
	if desc.FileSize == 0 {
		return nil
	}

	f, err := os.Open(it.Path)
	if err != nil {
		s.abort(conn)
		return fmt.Errorf("failed to open %s: %w", it.Path, err)
	}
	defer f.Close()

	var offset int64
	for offset < desc.FileSize {
		if err := ctx.Err(); err != nil {
			s.abort(conn)
			return err
		}

		n := int(min(int64(len(buf)), desc.FileSize-offset))
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			s.abort(conn)
			return fmt.Errorf("failed to read %s at %d: %w", it.Path, offset, err)
		}

		chunk := &protocol.Chunk{
			FileIndex:    desc.FileIndex,
			Start:        offset,
			End:          offset + int64(n),
			Data:         buf[:n],
			FileName:     desc.FileName,
			RelativePath: desc.RelativePath,
		}
		if err := s.sendMessage(conn, chunk); err != nil {
			return fmt.Errorf("failed to send chunk [%d,%d) of %s: %w", chunk.Start, chunk.End, desc.FileName, err)
		}

		offset = chunk.End
		sentChunk(n)
	}
	return nil
}

// abort tells the receiver the batch will not finish. Best effort: the
// connection may already be gone.
func (s *Sender) abort(conn transport.Conn) {
	if err := s.sendMessage(conn, &protocol.Complete{Success: false}); err != nil {
		s.logger.WithError(err).Debug("Failed to send abort")
	}
}

func (s *Sender) sendMessage(conn transport.Conn, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return conn.Send(data)
}
