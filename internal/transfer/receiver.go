package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

// Handlers are the receive-side callbacks. Any of them may be nil. peer is
// the remote peer address of the connection.
type Handlers struct {
	OnBatchStart    func(peer string, batch *Batch)
	OnProgress      func(peer string, fileIndex int, percent float64)
	OnBatchProgress func(peer string, percent float64)
	// OnBatchEnd gets the saved paths; reset tells the UI it may clear
	// its transfer view.
	OnBatchEnd func(peer string, batch *Batch, saved []string, reset bool)
	OnStatus   func(peer string, state State)
	OnError    func(peer string, err error)
}

type Receiver struct {
	opts     Options
	saver    Saver
	handlers Handlers
	logger   logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewReceiver(opts Options, saver Saver, handlers Handlers) *Receiver {
	opts.setDefaults()
	return &Receiver{
		opts:     opts,
		saver:    saver,
		handlers: handlers,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
}

// SessionInfo is a read-only view of a live session.
type SessionInfo struct {
	ID            string
	PeerID        string
	State         State
	BatchID       string
	BytesReceived int64
	LastActivity  time.Time
}

// Sessions lists the sessions currently being served.
func (r *Receiver) Sessions() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		info := SessionInfo{
			ID:            s.ID,
			PeerID:        s.PeerID,
			State:         s.State,
			BytesReceived: s.BytesReceived,
			LastActivity:  s.LastActivity,
		}
		if s.Batch != nil {
			info.BatchID = s.Batch.ID
		}
		out = append(out, info)
	}
	return out
}

// Serve runs the receive state machine for conn until the connection
// closes, ctx ends, or the session fails. Completed batches are saved and the
// session returns to Idle, ready for the next batch on the same connection.
// A clean close returns nil.
func (r *Receiver) Serve(ctx context.Context, conn transport.Conn) error {
	sess := newSession(uuid.NewString(), conn.PeerID())
	log := r.logger.WithFields(logrus.Fields{"session": sess.ID, "peer": sess.PeerID})

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.sessions, sess.ID)
		r.mu.Unlock()
	}()

	dec := protocol.NewDecoder()
	timer := time.NewTimer(r.opts.ChunkTimeout)
	defer timer.Stop()

	for {
		var timeout <-chan time.Time
		var window time.Duration
		if r.state(sess) == StateTransferring {
			window = r.opts.ChunkTimeout * time.Duration(max(sess.remainingChunks(), 1))
			resetTimer(timer, window)
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			r.drop(sess)
			return ctx.Err()

		case <-timeout:
			err := fmt.Errorf("%w: nothing received for %s", ErrTransferTimeout, window)
			r.fail(sess, log, err)
			return err

		case frame, ok := <-conn.Recv():
			if !ok {
				return r.closed(sess, log)
			}

			msgs, err := dec.Decode(frame)
			if err != nil {
				r.fail(sess, log, err)
				return err
			}
			for _, msg := range msgs {
				if err := r.dispatch(ctx, sess, log, msg); err != nil {
					r.fail(sess, log, err)
					return err
				}
			}
		}
	}
}

func (r *Receiver) dispatch(ctx context.Context, sess *Session, log logrus.FieldLogger, msg protocol.Message) error {
	now := r.opts.Time.Now()

	switch m := msg.(type) {
	case *protocol.FileMetadata:
		r.mu.Lock()
		if st := sess.State; st == StatePreparing || st == StateTransferring {
			log.WithField("batch", sess.Batch.ID).Warn("New batch replaces unfinished one")
		}
		err := sess.handleMetadata(m, r.opts.MaxItemSize, now)
		if err == nil && sess.Batch.ID == "" {
			sess.Batch.ID = uuid.NewString()
		}
		r.mu.Unlock()
		if err != nil {
			return err
		}

		batch := sess.Batch
		log.WithFields(logrus.Fields{
			"batch": batch.ID,
			"files": batch.TotalFiles,
			"size":  batch.TotalSize,
		}).Info("Batch started")

		r.status(sess, StatePreparing)
		r.setState(sess, StateTransferring)
		r.status(sess, StateTransferring)
		if h := r.handlers.OnBatchStart; h != nil {
			h(sess.PeerID, batch)
		}

	case *protocol.Chunk:
		r.mu.Lock()
		p, err := sess.handleChunk(m, now)
		r.mu.Unlock()
		if err != nil {
			return err
		}
		if h := r.handlers.OnProgress; h != nil {
			h(sess.PeerID, p.FileIndex, p.File)
		}
		if h := r.handlers.OnBatchProgress; h != nil {
			h(sess.PeerID, p.Batch)
		}

	case *protocol.Complete:
		r.mu.Lock()
		artifacts, err := sess.handleComplete(m, now)
		r.mu.Unlock()
		if err != nil {
			return err
		}
		r.status(sess, StateCompleting)

		batch := sess.Batch
		saved, err := r.saver.Save(ctx, batch, artifacts)
		if err != nil {
			return fmt.Errorf("failed to save batch %s: %w", batch.ID, err)
		}

		log.WithFields(logrus.Fields{"batch": batch.ID, "saved": saved}).Info("Batch received")

		r.mu.Lock()
		sess.reset()
		r.mu.Unlock()

		if h := r.handlers.OnBatchProgress; h != nil {
			h(sess.PeerID, 100)
		}
		r.status(sess, StateCompleted)
		if h := r.handlers.OnBatchEnd; h != nil {
			h(sess.PeerID, batch, saved, true)
		}
		r.opts.resetLater(func() { r.status(sess, StateIdle) })
	}
	return nil
}

// closed handles the peer closing the connection.
func (r *Receiver) closed(sess *Session, log logrus.FieldLogger) error {
	r.mu.Lock()
	short := sess.shortOnClose()
	active := sess.State == StateTransferring
	r.mu.Unlock()

	if short {
		err := fmt.Errorf("%w: file %d", ErrIncompleteTransfer, sess.CurrentFileIndex)
		r.fail(sess, log, err)
		return err
	}
	if active {
		log.Warn("Connection closed before completion message")
	}
	r.drop(sess)
	return nil
}

func (r *Receiver) fail(sess *Session, log logrus.FieldLogger, err error) {
	log.WithError(err).Warn("Receive session failed")

	r.mu.Lock()
	sess.reset()
	sess.State = StateError
	r.mu.Unlock()

	r.status(sess, StateError)
	if h := r.handlers.OnError; h != nil {
		h(sess.PeerID, err)
	}
	r.opts.resetLater(func() { r.status(sess, StateIdle) })
}

// drop releases the session's buffers without reporting an error.
func (r *Receiver) drop(sess *Session) {
	r.mu.Lock()
	busy := sess.State != StateIdle
	sess.reset()
	r.mu.Unlock()

	if busy {
		r.status(sess, StateIdle)
	}
}

func (r *Receiver) state(sess *Session) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sess.State
}

func (r *Receiver) setState(sess *Session, st State) {
	r.mu.Lock()
	sess.State = st
	r.mu.Unlock()
}

func (r *Receiver) status(sess *Session, st State) {
	if h := r.handlers.OnStatus; h != nil {
		h(sess.PeerID, st)
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
