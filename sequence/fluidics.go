package sequence

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zhuanglab/gostorm/comm"
	"github.com/zhuanglab/gostorm/util"
)

// FluidicsClient talks to the valve controller over TCP.  Messages are
// newline terminated:
//
//	list                    -> name,name,...
//	run <protocol>          -> done | error <message>, once the protocol ends
type FluidicsClient struct {
	pool *comm.Pool
}

// NewFluidicsClient returns a client of the valve controller at addr
func NewFluidicsClient(addr string) *FluidicsClient {
	maker := func() (io.ReadWriteCloser, error) {
		return comm.TCPSetup(addr, 3*time.Second)
	}
	return &FluidicsClient{pool: comm.NewPool(1, time.Minute, maker)}
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// exchange sends one line and reads one reply, which may take as long as
// ctx allows
func (f *FluidicsClient) exchange(ctx context.Context, msg string) (string, error) {
	conn, err := f.pool.Get()
	if err != nil {
		return "", err
	}
	// a read blocked past ctx is released by moving the deadline up.  The
	// watcher is gone before conn goes back to the pool.
	release := func() {}
	if dl, ok := conn.(deadliner); ok {
		dl.SetDeadline(time.Time{})
		stop, done := make(chan struct{}), make(chan struct{})
		go func() {
			defer close(done)
			select {
			case <-ctx.Done():
				dl.SetDeadline(time.Now())
			case <-stop:
			}
		}()
		release = func() {
			close(stop)
			<-done
			dl.SetDeadline(time.Time{})
		}
	}
	if _, err = io.WriteString(conn, msg+"\n"); err != nil {
		release()
		f.pool.Destroy(conn)
		return "", err
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	release()
	if err != nil {
		f.pool.Destroy(conn)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	f.pool.Put(conn)
	return strings.TrimRight(resp, "\r\n"), nil
}

// Protocols lists the protocols the controller knows
func (f *FluidicsClient) Protocols(ctx context.Context) ([]string, error) {
	resp, err := f.exchange(ctx, "list")
	if err != nil {
		return nil, errors.Wrap(err, "fluidics")
	}
	return util.SplitCSV(resp), nil
}

// RunProtocol runs a protocol and waits for it to finish
func (f *FluidicsClient) RunProtocol(ctx context.Context, name string) error {
	resp, err := f.exchange(ctx, "run "+name)
	if err != nil {
		return errors.Wrapf(err, "fluidics protocol %s", name)
	}
	switch {
	case resp == "done":
		return nil
	case strings.HasPrefix(resp, "error"):
		return fmt.Errorf("fluidics protocol %s: %s", name, strings.TrimSpace(strings.TrimPrefix(resp, "error")))
	}
	return fmt.Errorf("fluidics protocol %s: unexpected reply %q", name, resp)
}
