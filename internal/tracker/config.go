package tracker

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Addr string
	// PublicURL is the base URL advertised by /api/server-config. Empty
	// means it is derived from each request.
	PublicURL  string
	PurgeGrace time.Duration
	Logger     logrus.FieldLogger
}
