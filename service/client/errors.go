package client

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ConnectionErrorKind distinguishes the ways connecting to a runner can
// fail.
type ConnectionErrorKind uint8

const (
	// ConnTimeout means the runner refused every connection attempt.
	ConnTimeout ConnectionErrorKind = iota
	// ConnUnreachable means the host name could not be resolved or the
	// host could not be reached.
	ConnUnreachable
	// ConnOther is any other socket error.
	ConnOther
)

// ConnectionError is reported to the View when the client could not
// connect to the runner.
type ConnectionError struct {
	Kind ConnectionErrorKind
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	switch e.Kind {
	case ConnTimeout:
		return fmt.Sprintf("connection to %s timed out. Is your machine slow or busy? Free up some of the machine's resources and try again", e.Addr)
	case ConnUnreachable:
		return fmt.Sprintf("could not reach %s. Ensure you have '127.0.0.1 localhost' in your hosts file", e.Addr)
	}
	return fmt.Sprintf("could not connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SocketIOError is reported when the connection to the runner fails after
// it was established. The session is over.
type SocketIOError struct {
	Err error
}

func (e *SocketIOError) Error() string {
	return fmt.Sprintf("debugger connection lost: %v", e.Err)
}

func (e *SocketIOError) Unwrap() error { return e.Err }

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH)
}
