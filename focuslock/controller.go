package focuslock

import (
	"context"
	"log"
	"sync"

	"github.com/zhuanglab/gostorm/stage"
)

const (
	// DefaultGain is the proportional gain of the lock, um of z per pixel of offset
	DefaultGain = 0.005

	// DefaultMinSum is the smallest Sum that is trusted to lock on
	DefaultMinSum = 50
)

// Status is a snapshot of the controller
type Status struct {
	Locked      bool    `json:"locked"`
	Target      float64 `json:"target"`
	Offset      float64 `json:"offset"`
	Sum         float64 `json:"sum"`
	IsGood      bool    `json:"is_good"`
	Z           float64 `json:"z"`
	Corrections int     `json:"corrections"`
}

// Controller holds the focus offset at a target by moving a Z stage in
// proportion to the error
type Controller struct {
	z stage.Z

	// Gain scales the offset error to a z move
	Gain float64

	// MinSum is the smallest Sum a correction is made for
	MinSum float64

	mu          sync.Mutex
	locked      bool
	relock      bool
	target      float64
	last        Reading
	corrections int
}

// NewController returns an unlocked controller driving z
func NewController(z stage.Z) *Controller {
	return &Controller{z: z, Gain: DefaultGain, MinSum: DefaultMinSum}
}

// Lock starts holding the offset at the current target
func (c *Controller) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = true
	c.relock = false
}

// LockHere locks at the offset of the next good reading
func (c *Controller) LockHere() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = false
	c.relock = true
}

// Unlock stops correcting
func (c *Controller) Unlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = false
	c.relock = false
}

// Locked reports if corrections are being made
func (c *Controller) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// SetTarget sets the offset the lock holds.  A relock pending from a jump
// is resolved to t instead of the next good offset.
func (c *Controller) SetTarget(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = t
	if c.relock {
		c.locked, c.relock = true, false
	}
}

// Target returns the offset the lock holds
func (c *Controller) Target() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Jump moves the stage by dz um.  A locked controller relocks at the new
// focus instead of pulling the stage back.
func (c *Controller) Jump(dz float64) error {
	c.mu.Lock()
	wasLocked := c.locked || c.relock
	c.locked = false
	c.mu.Unlock()
	if err := c.z.ZMoveRel(dz); err != nil {
		return err
	}
	if wasLocked {
		c.LockHere()
	}
	return nil
}

// Handle applies one reading, and returns the z move made, if any
func (c *Controller) Handle(r Reading) (float64, error) {
	c.mu.Lock()
	c.last = r
	usable := r.IsGood && r.Sum >= c.MinSum
	if c.relock && usable {
		c.target = r.Offset
		c.locked, c.relock = true, false
	}
	if !c.locked || !usable {
		c.mu.Unlock()
		observeLock(c.locked, c.target)
		return 0, nil
	}
	dz := c.Gain * (r.Offset - c.target)
	locked, target := c.locked, c.target
	c.corrections++
	c.mu.Unlock()
	observeLock(locked, target)
	if dz == 0 {
		return 0, nil
	}
	return dz, c.z.ZMoveRel(dz)
}

// Run applies readings until ctx is done or the channel is closed
func (c *Controller) Run(ctx context.Context, readings <-chan Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			if _, err := c.Handle(r); err != nil {
				log.Printf("focus lock: z correction failed: %v", err)
			}
		}
	}
}

// Status returns a snapshot of the controller and the stage z
func (c *Controller) Status() (Status, error) {
	z, err := c.z.ZPosition()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Locked:      c.locked,
		Target:      c.target,
		Offset:      c.last.Offset,
		Sum:         c.last.Sum,
		IsGood:      c.last.IsGood,
		Z:           z,
		Corrections: c.corrections,
	}, err
}
