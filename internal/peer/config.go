package peer

import (
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRetryBound     = 3
	DefaultRetryBackoff   = 500 * time.Millisecond
	DefaultOpenTimeout    = 20 * time.Second
	DefaultConnectTimeout = 20 * time.Second
)

type Config struct {
	Listener transport.Listener
	Store    store.AddressRepository
	Logger   logrus.FieldLogger

	// RetryBound is the total number of addresses tried by Open.
	RetryBound     int
	RetryBackoff   time.Duration
	OpenTimeout    time.Duration
	ConnectTimeout time.Duration

	GenerateAddress func() (string, error)
}

func (c *Config) setDefaults() {
	if c.RetryBound <= 0 {
		c.RetryBound = DefaultRetryBound
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.GenerateAddress == nil {
		c.GenerateAddress = transport.GenerateAddress
	}
}
