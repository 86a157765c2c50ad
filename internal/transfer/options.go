package transfer

import (
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/sirupsen/logrus"
)

const (
	DefaultChunkSize    = 64 * 1024
	DefaultMaxItemSize  = 100 * 1024 * 1024
	DefaultChunkTimeout = 5 * time.Second
	DefaultResetDelay   = 3 * time.Second

	// sendProgressCeiling holds send progress below 100 until the completion
	// message has gone out.
	sendProgressCeiling = 99.0
)

// TimeProvider abstracts the clock for activity timestamps and rate meters.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type systemTime struct{}

func (systemTime) Now() time.Time                  { return time.Now() }
func (systemTime) Since(t time.Time) time.Duration { return time.Since(t) }

type Options struct {
	ChunkSize    int
	MaxItemSize  int64
	ChunkTimeout time.Duration
	// ResetDelay is how long a terminal status stays up before Idle is
	// reported. Zero reports Idle immediately.
	ResetDelay time.Duration

	Logger logrus.FieldLogger
	Time   TimeProvider
}

func (o *Options) setDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxItemSize <= 0 {
		o.MaxItemSize = DefaultMaxItemSize
	}
	if o.ChunkTimeout <= 0 {
		o.ChunkTimeout = DefaultChunkTimeout
	}
	if o.ResetDelay < 0 {
		o.ResetDelay = 0
	}
	if o.Logger == nil {
		o.Logger = logger.NewLogger()
	}
	if o.Time == nil {
		o.Time = systemTime{}
	}
}

func (o *Options) resetLater(fn func()) {
	if o.ResetDelay == 0 {
		fn()
		return
	}
	time.AfterFunc(o.ResetDelay, fn)
}
