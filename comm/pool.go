package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool holds one or more connections to a device which are closed when none
// has been leased for the idle timeout, and re-opened as needed.
// It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= maxSize
	timeout time.Duration           // idle time before all pooled connections are closed
	conns   chan io.ReadWriteCloser // connections not on lease
	timer   *time.Timer             // reclaim timer, armed when the last lease is returned
	maker   CreationFunc

	mu   sync.Mutex
	cond *sync.Cond // signalled on p.mu when a slot or connection frees up
}

// NewPool creates a pool of at most maxSize connections made by maker
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		maker:   maker,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Get retrieves a connection from the pool, blocking until one is
// available if all are in use.  There is no contention for the returned
// ReadWriter until it is given back.
//
// When done with it return it with Put(), or discard it with Destroy() if it
// has gone bad.  If the error from Get is not nil, do not return anything to
// the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	for {
		select {
		case c := <-p.conns:
			p.onLease++
			p.mu.Unlock()
			return c, nil
		default:
		}
		if p.onLease+len(p.conns) < p.maxSize {
			break
		}
		// all are out, wait for one to be returned or destroyed
		p.cond.Wait()
	}
	// reserve the slot before dialing so concurrent Gets cannot overshoot
	p.onLease++
	p.mu.Unlock()
	c, err := p.maker()
	if err != nil {
		p.mu.Lock()
		p.onLease--
		p.cond.Signal()
		p.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// Put restores a connection to the pool.  Connections are closed once all
// are returned and the timeout has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
	p.conns <- rwc
	p.cond.Signal()
	if p.onLease == 0 {
		p.startReclaim()
	}
}

// Destroy immediately closes a connection and frees its slot in the pool.
// Use instead of Put if the connection has gone bad.  A Get waiting on a
// full pool dials a replacement.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.cond.Signal()
	p.mu.Unlock()
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections currently given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// startReclaim arms the idle timer; p.mu must be held
func (p *Pool) startReclaim() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.timeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.onLease != 0 {
			return
		}
		for {
			select {
			case c := <-p.conns:
				c.Close()
			default:
				return
			}
		}
	})
}
