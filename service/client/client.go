// Package client implements the controller side of a debug session: it
// connects to a runner, sends it commands and keeps a mirror of the
// runner's breakpoints up to date with the events it receives.
//
// Commands are fire and forget, the runner never replies to a command
// directly. Events and connection failures are read by a worker goroutine
// and delivered as Notifications, which the owner of the client passes to
// Handle from its own goroutine. Handle updates the mirror and calls the
// View.
package client

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/go-delve/stardbg/pkg/breakpoint"
	"github.com/go-delve/stardbg/pkg/logflags"
	"github.com/go-delve/stardbg/service/api"
	"github.com/go-delve/stardbg/service/wire"
)

const (
	// DefaultConnectAttempts is the number of connection attempts made
	// before giving up, about ten seconds with DefaultConnectInterval.
	DefaultConnectAttempts = 50
	// DefaultConnectInterval is the pause between connection attempts.
	DefaultConnectInterval = 200 * time.Millisecond

	notificationBuffer = 64
)

// Process is a runner process started by the client's owner.
type Process interface {
	Kill() error
	Wait() error
}

// Config describes how to reach the runner.
type Config struct {
	// Addr is the host:port the runner listens on.
	Addr string
	// ConnectAttempts and ConnectInterval bound the connection retries
	// while the runner starts up.
	ConnectAttempts int
	ConnectInterval time.Duration
	// Process, if set, is the runner process owned by this client. Stop
	// asks it to quit and waits for it to exit.
	Process Process
}

// Notification is an event received from the runner or a connection
// failure.
type Notification struct {
	Event wire.Message
	Err   error
}

type eventHandler func(msg wire.Message) error

// Client is a debug session controller.
type Client struct {
	config   Config
	view     View
	log      logflags.Logger
	handlers map[api.EventKind]eventHandler

	notifications chan Notification
	cancel        context.CancelFunc
	done          chan struct{}
	stopCh        chan struct{}

	mu      sync.Mutex
	conn    net.Conn
	bps     *breakpoint.Registry
	stack   []api.StackEntry
	started bool
	stopped bool
}

// New returns a client that reports to view. Call Start to connect.
func New(config Config, view View) *Client {
	if config.ConnectAttempts <= 0 {
		config.ConnectAttempts = DefaultConnectAttempts
	}
	if config.ConnectInterval <= 0 {
		config.ConnectInterval = DefaultConnectInterval
	}
	c := &Client{
		config:        config,
		view:          view,
		log:           logflags.ClientLogger(),
		notifications: make(chan Notification, notificationBuffer),
		done:          make(chan struct{}),
		stopCh:        make(chan struct{}),
		bps:           breakpoint.NewRegistry(nil),
	}
	c.handlers = map[api.EventKind]eventHandler{
		api.EvBootstrap:         c.onBootstrap,
		api.EvBreakpointCreate:  c.onBreakpointCreate,
		api.EvBreakpointEnable:  c.onBreakpointEnable,
		api.EvBreakpointDisable: c.onBreakpointDisable,
		api.EvBreakpointIgnore:  c.onBreakpointIgnore,
		api.EvBreakpointClear:   c.onBreakpointClear,
		api.EvStack:             c.onStack,
		api.EvRestart:           c.onRestart,
		api.EvFinished:          c.onFinished,
		api.EvCall:              c.onCall,
		api.EvReturn:            c.onReturn,
		api.EvLine:              c.onLine,
		api.EvException:         c.onException,
		api.EvPostmortem:        c.onPostmortem,
		api.EvInfo:              c.onInfo,
		api.EvWarning:           c.onWarning,
		api.EvError:             c.onError,
	}
	return c
}

// Start connects to the runner in the background. Events and failures
// are delivered on Notifications.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()
	go c.worker(ctx)
}

// Notifications returns the channel on which the worker posts events and
// failures. It is closed when the session is over.
func (c *Client) Notifications() <-chan Notification {
	return c.notifications
}

// Serve handles notifications until the session is over or ctx is
// cancelled.
func (c *Client) Serve(ctx context.Context) error {
	for {
		select {
		case n, ok := <-c.notifications:
			if !ok {
				return nil
			}
			c.Handle(n)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Handle processes a notification: events update the breakpoint mirror
// and are forwarded to the View, events without a handler are ignored.
func (c *Client) Handle(n Notification) {
	if n.Err != nil {
		var connErr *ConnectionError
		if errors.As(n.Err, &connErr) {
			c.log.Error(connErr)
			c.view.OnFail(connErr)
			return
		}
		c.log.Errorf("%v", n.Err)
		return
	}
	kind, _ := api.ParseEvent(n.Event.Name)
	handler := c.handlers[kind]
	if handler == nil {
		c.log.Debugf("ignoring event %s", n.Event.Name)
		return
	}
	if err := handler(n.Event); err != nil {
		c.log.Errorf("error handling %s event: %v", n.Event.Name, err)
	}
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// post delivers n unless the client is stopped.
func (c *Client) post(n Notification) bool {
	select {
	case c.notifications <- n:
		return true
	case <-c.stopCh:
		return false
	}
}

func (c *Client) worker(ctx context.Context) {
	defer close(c.done)
	defer close(c.notifications)

	conn, err := c.dial(ctx)
	if err != nil {
		if !c.isStopped() {
			c.post(Notification{Err: err})
		}
		return
	}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()
	c.log.Debugf("connected to %s", c.config.Addr)

	dec := wire.NewDecoder(conn)
	for {
		msg, err := dec.Next()
		if err != nil {
			if err != io.EOF && !c.isStopped() {
				c.post(Notification{Err: &SocketIOError{Err: err}})
			}
			return
		}
		if msg.Name == wire.CloseName {
			c.log.Debug("runner closed the connection")
			continue
		}
		if !c.post(Notification{Event: msg}) {
			return
		}
	}
}

// dial connects to the runner, retrying while the connection is refused.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.config.ConnectInterval), uint64(c.config.ConnectAttempts-1))
	var lastErr error
	conn, err := backoff.RetryNotifyWithData(func() (net.Conn, error) {
		conn, err := d.DialContext(ctx, "tcp", c.config.Addr)
		switch {
		case err == nil:
			return conn, nil
		case isRefused(err):
			return nil, err
		case isUnreachable(err):
			return nil, backoff.Permanent(&ConnectionError{Kind: ConnUnreachable, Addr: c.config.Addr, Err: err})
		default:
			return nil, backoff.Permanent(&ConnectionError{Kind: ConnOther, Addr: c.config.Addr, Err: err})
		}
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		lastErr = err
		c.log.Debugf("connection refused, retrying in %v", d)
	})
	if err == nil {
		return conn, nil
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return nil, connErr
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, &ConnectionError{Kind: ConnTimeout, Addr: c.config.Addr, Err: lastErr}
}

// Stop ends the session. If the client owns the runner process it asks it
// to quit and waits for it to exit.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	conn, started, cancel := c.conn, c.started, c.cancel
	c.mu.Unlock()
	close(c.stopCh)

	var err error
	if conn != nil {
		if c.config.Process != nil {
			c.write(conn, api.CmdQuit, nil)
		}
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			if err := cw.CloseWrite(); err != nil {
				c.log.Debugf("closing write half: %v", err)
			}
		}
	} else if c.config.Process != nil {
		// Never connected, the runner can not be asked to quit.
		if err := c.config.Process.Kill(); err != nil {
			c.log.Debugf("killing runner: %v", err)
		}
	}
	if c.config.Process != nil {
		err = c.config.Process.Wait()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}
	if started {
		<-c.done
	}
	return err
}

// send writes a command to the runner. Commands sent while not connected
// are dropped.
func (c *Client) send(cmd api.CommandKind, args interface{}) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.log.Debugf("not connected to the runner, dropping %v", cmd)
		return
	}
	c.write(conn, cmd, args)
}

func (c *Client) write(conn net.Conn, cmd api.CommandKind, args interface{}) {
	if err := wire.Write(conn, cmd.String(), args); err != nil {
		c.log.Debugf("error sending %v: %v", cmd, err)
	}
}

// CreateBreakpoint asks the runner for a new breakpoint at filename:line.
func (c *Client) CreateBreakpoint(filename string, line int, temporary bool) {
	c.send(api.CmdBreak, api.BreakArgs{Filename: filename, Line: line, Temporary: temporary})
}

// EnableBreakpoint enables bp.
func (c *Client) EnableBreakpoint(bp *breakpoint.Breakpoint) {
	c.send(api.CmdEnable, api.BpnumArgs{Bpnum: bp.Number})
}

// DisableBreakpoint disables bp.
func (c *Client) DisableBreakpoint(bp *breakpoint.Breakpoint) {
	c.send(api.CmdDisable, api.BpnumArgs{Bpnum: bp.Number})
}

// IgnoreBreakpoint makes the next count hits of bp not stop. A count of
// 0 restores it.
func (c *Client) IgnoreBreakpoint(bp *breakpoint.Breakpoint, count int) {
	c.send(api.CmdIgnore, api.IgnoreArgs{Bpnum: bp.Number, Count: count})
}

// ClearBreakpoint deletes bp.
func (c *Client) ClearBreakpoint(bp *breakpoint.Breakpoint) {
	c.send(api.CmdClear, api.BpnumArgs{Bpnum: bp.Number})
}

// Run resumes execution until the next breakpoint.
func (c *Client) Run() { c.send(api.CmdContinue, nil) }

// Step stops at the next line or function call.
func (c *Client) Step() { c.send(api.CmdStep, nil) }

// Next stops at the next line of the current function.
func (c *Client) Next() { c.send(api.CmdNext, nil) }

// Return stops when the current function returns.
func (c *Client) Return() { c.send(api.CmdReturn, nil) }

// Restart runs the script again from the start.
func (c *Client) Restart() { c.send(api.CmdRestart, nil) }

// Quit ends the script.
func (c *Client) Quit() { c.send(api.CmdQuit, nil) }

// Breakpoint returns a copy of breakpoint number n.
func (c *Client) Breakpoint(n int) (*breakpoint.Breakpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bp, err := c.bps.Get(n)
	if err != nil {
		return nil, err
	}
	return copyBreakpoint(bp), nil
}

// BreakpointAt returns a copy of the breakpoint at filename:line.
func (c *Client) BreakpointAt(filename string, line int) (*breakpoint.Breakpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bp, err := c.bps.Lookup(filename, line)
	if err != nil {
		return nil, err
	}
	return copyBreakpoint(bp), nil
}

// Breakpoints returns the breakpoints of filename, or of every file if
// filename is empty, sorted by number.
func (c *Client) Breakpoints(filename string) []*breakpoint.Breakpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	var bps []*breakpoint.Breakpoint
	if filename == "" {
		bps = c.bps.All()
	} else {
		bps = c.bps.At(filename)
	}
	r := make([]*breakpoint.Breakpoint, len(bps))
	for i := range bps {
		r[i] = copyBreakpoint(bps[i])
	}
	return r
}

// Stack returns the stack received at the last stop.
func (c *Client) Stack() []api.StackEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stack
}

func copyBreakpoint(bp *breakpoint.Breakpoint) *breakpoint.Breakpoint {
	cp := *bp
	return &cp
}
