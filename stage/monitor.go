package stage

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Status is one poll of a stage
type Status struct {
	Position Position
	Moving   bool
	Time     time.Time
}

// Monitor polls a stage for its position and whether it is moving, and
// publishes each Status on a channel.  Slow consumers only ever see the
// latest Status.
type Monitor struct {
	// Name labels the stage in logs and metrics
	Name string

	stage   XY
	limiter *rate.Limiter
	updates chan Status
	polling int32

	mu   sync.Mutex
	last Status
}

// NewMonitor polls s at most once per interval
func NewMonitor(name string, s XY, interval time.Duration) *Monitor {
	return &Monitor{
		Name:    name,
		stage:   s,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		updates: make(chan Status, 1),
	}
}

// Updates is the channel Status records are published on
func (m *Monitor) Updates() <-chan Status {
	return m.updates
}

// Last returns the most recent Status, and false if there has been no poll yet
func (m *Monitor) Last() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, !m.last.Time.IsZero()
}

// Run polls until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	for {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		m.Poll()
	}
}

// Poll queries the stage once.  It returns false without querying if a poll
// is already in flight, so a slow serial link is never queued up behind
// itself.
func (m *Monitor) Poll() bool {
	if !atomic.CompareAndSwapInt32(&m.polling, 0, 1) {
		return false
	}
	defer atomic.StoreInt32(&m.polling, 0)

	pos, err := m.stage.Position()
	if err != nil {
		log.Printf("stage %s: position query failed: %v", m.Name, err)
		return true
	}
	moving := false
	if b, ok := m.stage.(Busier); ok {
		moving, err = b.Busy()
		if err != nil {
			log.Printf("stage %s: busy query failed: %v", m.Name, err)
		}
	}
	st := Status{Position: pos.Copy(), Moving: moving, Time: time.Now()}
	m.mu.Lock()
	m.last = st
	m.mu.Unlock()
	observe(m.Name, st)

	// latest wins
	select {
	case <-m.updates:
	default:
	}
	select {
	case m.updates <- st:
	default:
	}
	return true
}
