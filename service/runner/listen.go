package runner

import (
	"context"
	"net"

	"github.com/go-delve/stardbg/service/internal/sameuser"
)

// Listen opens a TCP listener on addr suitable for a runner: the address
// is reusable as soon as a previous runner exits and accepted connections
// are kept alive.
func Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlSocket}
	return lc.Listen(context.Background(), "tcp", addr)
}

// accept waits for the next client. Connections from other users are
// rejected when the listener is on a loopback address.
func (s *Server) accept() (net.Conn, error) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return nil, err
		}
		if s.config.CheckLocalConnUser && !sameuser.CanAccept(s.listener.Addr(), conn.LocalAddr(), conn.RemoteAddr()) {
			conn.Close()
			continue
		}
		return conn, nil
	}
}
