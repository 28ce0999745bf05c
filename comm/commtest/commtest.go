// Package commtest provides loopback TCP fakes of serial devices for tests.
package commtest

import (
	"bufio"
	"net"
	"sync"
	"testing"
)

// Handler answers one request line.  ok=false means the device sends nothing back.
type Handler func(req string) (resp string, ok bool)

// Server is a fake line-oriented device listening on loopback
type Server struct {
	ln net.Listener

	mu   sync.Mutex
	reqs []string
}

// Addr is the host:port to point a driver at
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Requests returns every line received so far, terminators stripped
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.reqs))
	copy(out, s.reqs)
	return out
}

// NewLineServer starts a fake that reads messages ending in rx and writes
// replies ending in tx.  It is shut down when the test ends.
func NewLineServer(t testing.TB, rx, tx byte, h Handler) *Server {
	t.Helper()
	s := listen(t)
	go s.serve(func(c net.Conn) {
		r := bufio.NewReader(c)
		for {
			line, err := r.ReadString(rx)
			if err != nil {
				return
			}
			line = line[:len(line)-1]
			s.mu.Lock()
			s.reqs = append(s.reqs, line)
			s.mu.Unlock()
			resp, ok := h(line)
			if !ok {
				continue
			}
			if _, err := c.Write(append([]byte(resp), tx)); err != nil {
				return
			}
		}
	})
	return s
}

// NewRawServer starts a fake that hands each accepted connection to fn
func NewRawServer(t testing.TB, fn func(net.Conn)) *Server {
	t.Helper()
	s := listen(t)
	go s.serve(fn)
	return s
}

func listen(t testing.TB) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen on loopback: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return &Server{ln: ln}
}

func (s *Server) serve(fn func(net.Conn)) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			fn(conn)
		}()
	}
}
