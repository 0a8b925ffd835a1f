package runner

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/go-delve/stardbg/pkg/logflags"
	"github.com/go-delve/stardbg/service/wire"
)

// closeTimeout bounds how long shutdown waits for the client to close its
// side of the connection.
const closeTimeout = time.Second

// connection is a connected client. Commands are decoded by a reader
// goroutine and queued without bound, so that a client sending commands
// while the script runs never blocks on the socket.
type connection struct {
	conn     net.Conn
	log      logflags.Logger
	commands chan wire.Message
	quit     chan struct{}
	// readDone is closed when the reader goroutine has seen the end of
	// the stream.
	readDone chan struct{}
}

func newConnection(conn net.Conn, log logflags.Logger) *connection {
	c := &connection{
		conn:     conn,
		log:      log,
		commands: make(chan wire.Message),
		quit:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	decoded := make(chan wire.Message)
	go c.read(decoded)
	go c.queue(decoded)
	return c
}

// read decodes frames until the end of the stream or the first error.
func (c *connection) read(out chan<- wire.Message) {
	defer close(out)
	defer close(c.readDone)
	dec := wire.NewDecoder(c.conn)
	for {
		msg, err := dec.Next()
		if err != nil {
			// A malformed frame leaves the stream in an unknown state,
			// the connection is dropped as if the client had hung up.
			var perr *wire.ProtocolError
			if errors.As(err, &perr) {
				c.log.Errorf("dropping client: %v", err)
			} else if err != io.EOF {
				c.log.Debugf("client read error: %v", err)
			}
			return
		}
		select {
		case out <- msg:
		case <-c.quit:
			return
		}
	}
}

// queue moves decoded commands to the commands channel, buffering as
// many as needed.
func (c *connection) queue(in <-chan wire.Message) {
	defer close(c.commands)
	var pending []wire.Message
	for {
		var (
			out  chan<- wire.Message
			next wire.Message
		)
		if len(pending) > 0 {
			out = c.commands
			next = pending[0]
		} else if in == nil {
			return
		}
		select {
		case msg, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, msg)
		case out <- next:
			pending = pending[1:]
		case <-c.quit:
			return
		}
	}
}

// close drops the connection immediately.
func (c *connection) close() {
	close(c.quit)
	c.conn.Close()
}

// shutdown closes the write half of the connection and gives the client
// some time to read the last events and hang up before closing it.
func (c *connection) shutdown() {
	if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			c.log.Debugf("closing write half: %v", err)
		}
		select {
		case <-c.readDone:
		case <-time.After(closeTimeout):
		}
	}
	c.close()
}
