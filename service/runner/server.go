// Package runner implements the debuggee side of a debug session. A
// Server runs a Starlark script under a trace.Engine and, every time the
// engine stops, exchanges wire messages with the client connected to its
// listener until the client resumes execution.
//
// The script runs on the goroutine calling Run. Commands are read from the
// client connection by a dedicated goroutine and delivered through a
// channel, so that the interact loop only blocks while the script is
// stopped.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/go-delve/stardbg/pkg/breakpoint"
	"github.com/go-delve/stardbg/pkg/logflags"
	"github.com/go-delve/stardbg/pkg/source"
	"github.com/go-delve/stardbg/pkg/starhost"
	"github.com/go-delve/stardbg/pkg/trace"
	"github.com/go-delve/stardbg/service/api"
	"github.com/go-delve/stardbg/service/wire"
)

// Config is the configuration of a runner Server.
type Config struct {
	// Listener is used to accept client connections. The server takes
	// ownership of it.
	Listener net.Listener
	// Script is the path of the Starlark script to debug.
	Script string
	// Args are passed to the script.
	Args []string
	// Stdout receives the output of the script.
	Stdout io.Writer
	// Skip lists glob patterns of files where execution never stops
	// unless a breakpoint is hit.
	Skip []string
	// MaxReprLen truncates the values reported in stack frames.
	MaxReprLen int
	// SourceCacheSize is the number of source files kept in memory.
	SourceCacheSize int
	// CheckLocalConnUser is true if the server should reject connections
	// to a loopback listener coming from other users.
	CheckLocalConnUser bool
}

// DebugState is the progress of the first execution of the script.
type DebugState uint8

const (
	// StateNotStarted is the state before the script first runs.
	StateNotStarted DebugState = iota
	// StateStarting lasts until the first line is reached, events
	// generated by the bootstrap code are not reported while starting.
	StateStarting
	// StateStarted is the state once the first line has been reached.
	StateStarted
)

func (s DebugState) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	}
	return fmt.Sprintf("DebugState(%d)", uint8(s))
}

// outcome tells the interact loop what to do after a command.
type outcome uint8

const (
	outcomeStay outcome = iota
	outcomeResume
	outcomeRestart
	outcomeReconnect
	outcomeTerminate
)

var (
	// errRestart unwinds the script when the client asks for a restart.
	errRestart = errors.New("restart requested")
	// errTerminate unwinds the script when the session can not continue
	// (the listener was closed or the context cancelled).
	errTerminate = errors.New("debug session terminated")
)

type commandHandler func(msg wire.Message) (outcome, error)

// Server is a runner serving one client at a time.
type Server struct {
	config   *Config
	listener net.Listener
	log      logflags.Logger

	lines    *source.Cache
	bps      *breakpoint.Registry
	engine   *trace.Engine
	host     *starhost.Host
	handlers map[api.CommandKind]commandHandler

	// The following fields are only used by the goroutine calling Run.
	ctx       context.Context
	conn      *connection
	curFrame  *trace.Frame
	continued bool

	mu    sync.Mutex
	state DebugState
	// stateChanged is called on every transition, for testing.
	stateChanged func(from, to DebugState)
}

// NewServer returns a server for the script described by config.
func NewServer(config *Config) (*Server, error) {
	if config.Listener == nil {
		return nil, errors.New("runner: no listener")
	}
	if config.SourceCacheSize <= 0 {
		config.SourceCacheSize = source.DefaultSize
	}
	s := &Server{
		config:   config,
		listener: config.Listener,
		log:      logflags.RunnerLogger(),
		lines:    source.NewCache(config.SourceCacheSize),
	}
	s.bps = breakpoint.NewRegistry(s.lines)
	engine, err := trace.New(s.bps, s, config.Skip)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	s.host = starhost.New(starhost.Config{
		Script:     config.Script,
		Args:       config.Args,
		Stdout:     config.Stdout,
		MaxReprLen: config.MaxReprLen,
		Sources:    s.lines,
	})
	s.handlers = map[api.CommandKind]commandHandler{
		api.CmdBreak:    s.onBreak,
		api.CmdEnable:   s.onEnable,
		api.CmdDisable:  s.onDisable,
		api.CmdIgnore:   s.onIgnore,
		api.CmdClear:    s.onClear,
		api.CmdStep:     s.onStep,
		api.CmdNext:     s.onNext,
		api.CmdReturn:   s.onReturn,
		api.CmdContinue: s.onContinue,
		api.CmdRestart:  s.onRestart,
		api.CmdQuit:     s.onQuit,
		api.CmdClose:    s.onClose,
	}
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// State returns the current DebugState.
func (s *Server) State() DebugState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setState(from, to DebugState) {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return
	}
	s.state = to
	cb := s.stateChanged
	s.mu.Unlock()
	s.log.Debugf("state %v -> %v", from, to)
	if cb != nil {
		cb(from, to)
	}
}

// Run executes the script until it finishes, the client quits or ctx is
// cancelled, restarting it as many times as the client asks. It returns
// the *starhost.ScriptError that killed the script, if any.
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks a pending Accept.
			s.listener.Close()
		case <-stop:
		}
	}()
	defer s.shutdown()

	for {
		s.engine.Reset()
		s.setState(StateNotStarted, StateStarting)
		s.lines.Purge()
		s.curFrame = nil

		err := s.host.Run(ctx, s.engine)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var scriptErr *starhost.ScriptError
		switch {
		case err == nil, errors.Is(err, trace.ErrQuit):
			s.log.Debug("script finished")
			s.send(api.EvFinished, struct{}{})
			return nil
		case errors.Is(err, errRestart):
			s.log.Debug("restarting script")
			s.send(api.EvRestart, struct{}{})
		case errors.Is(err, errTerminate):
			return nil
		case errors.As(err, &scriptErr):
			s.log.Debugf("script failed: %v", err)
			s.send(api.EvPostmortem, api.PostmortemArgs{Traceback: scriptErr.Traceback})
			return err
		default:
			return err
		}
	}
}

// shutdown closes the client connection in a tidy manner: the write half
// is closed first so that the client reads every event before EOF.
func (s *Server) shutdown() {
	s.listener.Close()
	if s.conn != nil {
		s.conn.shutdown()
		s.conn = nil
	}
}

// send writes an event to the client. Events are dropped when no client
// is connected.
func (s *Server) send(kind api.EventKind, args interface{}) {
	if s.conn == nil {
		s.log.Debugf("no client, dropping %v event", kind)
		return
	}
	if err := wire.Write(s.conn.conn, kind.String(), args); err != nil {
		s.log.Debugf("client error: %v", err)
	}
}

func (s *Server) sendError(msg string) {
	s.send(api.EvError, api.MessageArgs{Message: msg})
}

// stop is called by the hooks when the engine stops at f. It returns when
// the client resumes execution, or with an error that must unwind the
// script.
func (s *Server) stop(f *trace.Frame) error {
	for {
		switch s.interact(f) {
		case outcomeResume:
			return nil
		case outcomeRestart:
			return errRestart
		case outcomeReconnect:
			if err := s.reconnect(); err != nil {
				if s.ctx.Err() == nil {
					s.log.Errorf("error accepting client connection: %v", err)
				}
				return errTerminate
			}
		case outcomeTerminate:
			return errTerminate
		}
	}
}

// interact sends the stack at f to the client and processes commands
// until one of them changes the control flow.
func (s *Server) interact(f *trace.Frame) outcome {
	s.curFrame = f
	if s.conn == nil {
		return outcomeReconnect
	}
	s.send(api.EvStack, stackArgs(f))
	for {
		var msg wire.Message
		select {
		case m, ok := <-s.conn.commands:
			if !ok {
				return outcomeReconnect
			}
			msg = m
		case <-s.ctx.Done():
			return outcomeTerminate
		}
		if out := s.dispatch(msg); out != outcomeStay {
			return out
		}
	}
}

// reconnect waits for a new client and sends it the bootstrap event.
func (s *Server) reconnect() error {
	if s.conn != nil {
		s.conn.close()
		s.conn = nil
	}
	conn, err := s.accept()
	if err != nil {
		return err
	}
	s.log.Debugf("client connected from %v", conn.RemoteAddr())
	s.conn = newConnection(conn, s.log)
	s.send(api.EvBootstrap, s.bootstrap())
	return nil
}

func (s *Server) bootstrap() api.BootstrapArgs {
	all := s.bps.All()
	args := api.BootstrapArgs{Breakpoints: make([]api.BootstrapBreakpoint, 0, len(all))}
	for _, bp := range all {
		args.Breakpoints = append(args.Breakpoints, api.BootstrapBreakpoint{
			Bpnum:     bp.Number,
			Filename:  bp.Filename,
			Line:      bp.Line,
			Temporary: bp.Temporary,
			Enabled:   bp.Enabled,
			Funcname:  bp.Funcname,
		})
	}
	return args
}

// UserCall implements trace.Hooks.
func (s *Server) UserCall(f *trace.Frame, args map[string]string) error {
	if s.State() == StateStarting {
		return nil
	}
	s.send(api.EvCall, api.CallArgs{Args: args})
	return s.stop(f)
}

// UserLine implements trace.Hooks.
func (s *Server) UserLine(f *trace.Frame) error {
	s.setState(StateStarting, StateStarted)
	if n := s.engine.CurrentBreakpoint; n != 0 {
		s.log.Debugf("breakpoint %d hit at %s:%d", n, f.Filename, f.Line)
	}
	s.send(api.EvLine, api.LineArgs{Filename: breakpoint.Canonical(f.Filename), Line: f.Line})
	return s.stop(f)
}

// UserReturn implements trace.Hooks.
func (s *Server) UserReturn(f *trace.Frame, retval string) error {
	if s.State() == StateStarting {
		return nil
	}
	f.SetLocal("__return__", retval)
	s.send(api.EvReturn, api.ReturnArgs{Retval: retval})
	return s.stop(f)
}

// UserException implements trace.Hooks.
func (s *Server) UserException(f *trace.Frame, exc *trace.Exception) error {
	if s.State() == StateStarting {
		return nil
	}
	f.SetLocal("__exception__", exc.Repr())
	s.send(api.EvException, api.ExceptionArgs{Name: exc.Name, Value: exc.Value})
	return s.stop(f)
}

// BreakpointCleared implements trace.Hooks.
func (s *Server) BreakpointCleared(bp *breakpoint.Breakpoint) {
	s.send(api.EvBreakpointClear, api.BpnumArgs{Bpnum: bp.Number})
}
