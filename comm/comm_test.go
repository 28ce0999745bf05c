package comm_test

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhuanglab/gostorm/comm"
	"github.com/zhuanglab/gostorm/comm/commtest"
)

func echoUpper(req string) (string, bool) {
	if req == "silent" {
		return "", false
	}
	return strings.ToUpper(req), true
}

func TestOpenSendRecvCloseRoundTrip(t *testing.T) {
	srv := commtest.NewLineServer(t, '\r', '\r', echoUpper)
	rd := comm.NewRemoteDevice(srv.Addr(), false, nil, nil)
	resp, err := rd.OpenSendRecvClose([]byte("?pos"))
	require.NoError(t, err)
	assert.Equal(t, "?POS", string(resp))
	assert.Equal(t, []string{"?pos"}, srv.Requests())
}

func TestCustomTerminatorsStripCR(t *testing.T) {
	srv := commtest.NewLineServer(t, '\n', '\n', func(req string) (string, bool) {
		return "1=+0.5\r", true
	})
	rd := comm.NewRemoteDevice(srv.Addr(), false, &comm.Terminators{Rx: '\n', Tx: '\n'}, nil)
	resp, err := rd.OpenSendRecvClose([]byte("POS? 1"))
	require.NoError(t, err)
	assert.Equal(t, "1=+0.5", string(resp))
}

func TestSendWithoutConnection(t *testing.T) {
	rd := comm.NewRemoteDevice("127.0.0.1:1", false, nil, nil)
	assert.Equal(t, comm.ErrNotConnected, rd.Send([]byte("x")))
	_, err := rd.Recv()
	assert.Equal(t, comm.ErrNotConnected, err)
}

func TestSerialWithoutConfig(t *testing.T) {
	rd := comm.NewRemoteDevice("/dev/null-port", true, nil, nil)
	assert.Equal(t, comm.ErrNoSerialConf, rd.Open())
}

func TestCloseEventuallyReleasesConnection(t *testing.T) {
	srv := commtest.NewLineServer(t, '\r', '\r', echoUpper)
	rd := comm.NewRemoteDevice(srv.Addr(), false, nil, nil)
	rd.Timeout = 20 * time.Millisecond
	_, err := rd.OpenSendRecvClose([]byte("a"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		rd.Lock()
		defer rd.Unlock()
		return rd.Conn == nil
	}, time.Second, 5*time.Millisecond)

	// and the next transaction reopens it
	resp, err := rd.OpenSendRecvClose([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "B", string(resp))
}

func TestTransactSpansMessages(t *testing.T) {
	srv := commtest.NewLineServer(t, '\r', '\r', echoUpper)
	rd := comm.NewRemoteDevice(srv.Addr(), false, nil, nil)
	var got []string
	err := rd.Transact(func() error {
		if err := rd.Send([]byte("silent")); err != nil {
			return err
		}
		resp, err := rd.SendRecv([]byte("x"))
		got = append(got, string(resp))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, got)
	assert.Equal(t, []string{"silent", "x"}, srv.Requests())
}

func TestRawBinaryExchange(t *testing.T) {
	srv := commtest.NewRawServer(t, func(c net.Conn) {
		buf := make([]byte, 6)
		if _, err := io.ReadFull(c, buf); err != nil {
			return
		}
		buf[0]++
		c.Write(buf)
	})
	rd := comm.NewRemoteDevice(srv.Addr(), false, nil, nil)
	var resp []byte
	err := rd.Transact(func() error {
		if err := rd.SendRaw([]byte{0x11, 0x04, 0x01, 0x00, 0x50, 0x01}); err != nil {
			return err
		}
		var err error
		resp, err = rd.RecvN(6)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x04, 0x01, 0x00, 0x50, 0x01}, resp)
}

func tcpEchoMaker(t *testing.T) comm.CreationFunc {
	srv := commtest.NewRawServer(t, func(c net.Conn) { io.Copy(c, c) })
	return func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", srv.Addr())
	}
}

func TestPoolFillsToCapacity(t *testing.T) {
	pool := comm.NewPool(3, time.Second, tcpEchoMaker(t))
	for i := 0; i < 3; i++ {
		_, err := pool.Get()
		require.NoError(t, err)
	}
	assert.Equal(t, 3, pool.Active())
	assert.Equal(t, 3, pool.Size())
}

func TestPoolReusesReleased(t *testing.T) {
	pool := comm.NewPool(3, time.Second, tcpEchoMaker(t))
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		require.NoError(t, err)
		pool.Put(conn)
	}
	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, 0, pool.Active())
}

func TestPoolReclaimsIdle(t *testing.T) {
	pool := comm.NewPool(2, 10*time.Millisecond, tcpEchoMaker(t))
	conn, err := pool.Get()
	require.NoError(t, err)
	pool.Put(conn)
	assert.Eventually(t, func() bool { return pool.Size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPoolBlocksWhenExhausted(t *testing.T) {
	pool := comm.NewPool(2, time.Second, tcpEchoMaker(t))
	held := []io.ReadWriter{}
	for i := 0; i < 2; i++ {
		rw, err := pool.Get()
		require.NoError(t, err)
		held = append(held, rw)
	}
	got := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		got <- rw
	}()
	select {
	case <-got:
		t.Fatal("pool handed out more connections than its size")
	case <-time.After(100 * time.Millisecond):
	}
	pool.Put(held[0])
	select {
	case rw := <-got:
		assert.Equal(t, held[0], rw)
	case <-time.After(time.Second):
		t.Fatal("returned connection was not handed to the waiter")
	}
}

func TestPoolDestroyFreesSlotForWaiter(t *testing.T) {
	pool := comm.NewPool(1, time.Second, tcpEchoMaker(t))
	first, err := pool.Get()
	require.NoError(t, err)
	got := make(chan io.ReadWriter, 1)
	go func() {
		rw, err := pool.Get()
		if err == nil {
			got <- rw
		}
	}()
	select {
	case <-got:
		t.Fatal("pool handed out more connections than its size")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Destroy(first)
	select {
	case rw := <-got:
		assert.NotEqual(t, first, rw, "a fresh connection replaces the destroyed one")
		assert.Equal(t, 1, pool.Active())
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken when a connection was destroyed")
	}
}
