package transfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Meter tracks throughput of one transfer with an exponential moving
// average and estimates the time left.
type Meter struct {
	mu    sync.Mutex
	clock TimeProvider
	total int64
	done  int64
	speed float64
	last  time.Time
}

func NewMeter(total int64, clock TimeProvider) *Meter {
	if clock == nil {
		clock = systemTime{}
	}
	return &Meter{clock: clock, total: total, last: clock.Now()}
}

// Add records n more bytes moved.
func (m *Meter) Add(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.done += n
	elapsed := m.clock.Since(m.last).Seconds()
	if elapsed <= 0 {
		return
	}

	instant := float64(n) / elapsed
	if m.speed == 0 {
		m.speed = instant
	} else {
		m.speed = 0.7*m.speed + 0.3*instant
	}
	m.last = m.clock.Now()
}

// Set moves the meter to an absolute byte count.
func (m *Meter) Set(done int64) {
	m.mu.Lock()
	delta := done - m.done
	m.mu.Unlock()
	if delta > 0 {
		m.Add(delta)
	}
}

// Speed is in bytes per second.
func (m *Meter) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}

func (m *Meter) ETA() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.speed <= 0 || m.done >= m.total {
		return 0
	}
	return time.Duration(float64(m.total-m.done) / m.speed * float64(time.Second))
}

func (m *Meter) String() string {
	speed, eta := m.Speed(), m.ETA()
	if speed <= 0 {
		return "calculating..."
	}
	return fmt.Sprintf("%s/s, %s left", humanize.Bytes(uint64(speed)), eta.Round(time.Second))
}
