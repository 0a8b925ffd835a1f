// Package trace implements a line stepping engine driven by call, line,
// return and exception events reported by a script host.
//
// The engine decides, for every event, whether execution should stop; when
// it should, the corresponding Hooks method is called and blocks until the
// user resumes execution. The stop rules follow the classic design of
// trace based debuggers: a stop frame, an optional stop line and a return
// frame describe where the next stop will happen.
package trace

import (
	"errors"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/go-delve/stardbg/pkg/breakpoint"
	"github.com/go-delve/stardbg/pkg/logflags"
)

// ErrQuit is returned by the event methods once SetQuit has been called.
// The host must unwind the script when it sees it.
var ErrQuit = errors.New("debugger quit")

// Hooks receives the events on which execution stops. Any error returned
// by a hook is returned by the event method that called it.
type Hooks interface {
	// UserCall is called when execution stops on entry to a function.
	UserCall(f *Frame, args map[string]string) error
	// UserLine is called when execution stops at a line.
	UserLine(f *Frame) error
	// UserReturn is called when execution stops because f is returning.
	UserReturn(f *Frame, retval string) error
	// UserException is called when execution stops because of an error
	// raised in f.
	UserException(f *Frame, exc *Exception) error
	// BreakpointCleared is called after a temporary breakpoint has been
	// hit and deleted.
	BreakpointCleared(bp *breakpoint.Breakpoint)
}

// Engine tracks the stepping state of one script execution.
type Engine struct {
	bps   *breakpoint.Registry
	hooks Hooks
	skip  []string
	log   logflags.Logger

	botFrame    *Frame
	stopFrame   *Frame
	returnFrame *Frame
	stopLine    int
	quitting    bool

	// CurrentBreakpoint is the number of the breakpoint that caused the
	// current line stop, or 0.
	CurrentBreakpoint int
}

// New returns an engine that stops on the breakpoints of bps and reports
// stops to hooks. Frames whose filename matches one of the skip patterns
// (doublestar syntax) never stop, except on breakpoints.
func New(bps *breakpoint.Registry, hooks Hooks, skip []string) (*Engine, error) {
	for _, pattern := range skip {
		if !doublestar.ValidatePathPattern(pattern) {
			return nil, fmt.Errorf("invalid skip pattern %q", pattern)
		}
	}
	e := &Engine{bps: bps, hooks: hooks, skip: skip, log: logflags.EngineLogger()}
	e.Reset()
	return e, nil
}

// Reset prepares the engine for a new execution: the first line executed
// after the bottom frame is established stops.
func (e *Engine) Reset() {
	e.botFrame = nil
	e.setStopInfo(nil, nil, 0)
	e.quitting = false
	e.CurrentBreakpoint = 0
}

func (e *Engine) setStopInfo(stopFrame, returnFrame *Frame, stopLine int) {
	e.stopFrame = stopFrame
	e.returnFrame = returnFrame
	e.stopLine = stopLine
}

// Call must be called by the host when a new frame is entered. The first
// frame seen by the engine after Reset establishes the bottom frame (its
// caller) and never stops. Breakpoints never stop on call events.
func (e *Engine) Call(f *Frame, args map[string]string) error {
	if e.quitting {
		return ErrQuit
	}
	if e.botFrame == nil {
		e.botFrame = f.Back
		return nil
	}
	if !e.StopHere(f) {
		return nil
	}
	e.log.Debugf("call %v", f)
	if err := e.hooks.UserCall(f, args); err != nil {
		return err
	}
	if e.quitting {
		return ErrQuit
	}
	return nil
}

// Line must be called by the host before a new line of f executes.
func (e *Engine) Line(f *Frame) error {
	if e.quitting {
		return ErrQuit
	}
	e.CurrentBreakpoint = 0
	if !(e.StopHere(f) || e.BreakHere(f)) {
		return nil
	}
	e.log.Debugf("line %v", f)
	if err := e.hooks.UserLine(f); err != nil {
		return err
	}
	if e.quitting {
		return ErrQuit
	}
	return nil
}

// Return must be called by the host when f is about to return retval.
func (e *Engine) Return(f *Frame, retval string) error {
	if e.quitting {
		return ErrQuit
	}
	if !(e.StopHere(f) || f == e.returnFrame) {
		return nil
	}
	e.log.Debugf("return %v", f)
	if err := e.hooks.UserReturn(f, retval); err != nil {
		return err
	}
	if e.quitting {
		return ErrQuit
	}
	// next or until issued while f was returning: stop in the caller.
	if e.stopFrame == f && e.stopLine != -1 {
		e.setStopInfo(nil, nil, 0)
	}
	return nil
}

// Exception must be called by the host when an error is raised in f.
func (e *Engine) Exception(f *Frame, exc *Exception) error {
	if e.quitting {
		return ErrQuit
	}
	if !e.StopHere(f) {
		return nil
	}
	e.log.Debugf("exception %s in %v", exc.Name, f)
	if err := e.hooks.UserException(f, exc); err != nil {
		return err
	}
	if e.quitting {
		return ErrQuit
	}
	return nil
}

// StopHere reports whether the stepping state requires a stop in f.
func (e *Engine) StopHere(f *Frame) bool {
	if e.skipped(f) {
		return false
	}
	if f == e.stopFrame {
		if e.stopLine == -1 {
			return false
		}
		return f.Line >= e.stopLine
	}
	return e.stopFrame == nil
}

// BreakHere reports whether a breakpoint stops f at its current line.
// Temporary breakpoints that stop are deleted.
func (e *Engine) BreakHere(f *Frame) bool {
	bp, del := e.bps.Effective(f.Filename, f.Line)
	if bp == nil {
		return false
	}
	e.CurrentBreakpoint = bp.Number
	if del {
		if _, err := e.bps.Clear(bp.Number); err == nil {
			e.hooks.BreakpointCleared(bp)
		}
	}
	return true
}

func (e *Engine) skipped(f *Frame) bool {
	for _, pattern := range e.skip {
		if ok, _ := doublestar.PathMatch(pattern, f.Filename); ok {
			return true
		}
	}
	return false
}

// SetStep stops at the next event.
func (e *Engine) SetStep() {
	e.setStopInfo(nil, nil, 0)
}

// SetNext stops at the next line in f, or when f returns.
func (e *Engine) SetNext(f *Frame) {
	e.setStopInfo(f, nil, 0)
}

// SetReturn stops when f returns.
func (e *Engine) SetReturn(f *Frame) {
	e.setStopInfo(f.Back, f, 0)
}

// SetContinue stops only at breakpoints.
func (e *Engine) SetContinue() {
	e.setStopInfo(e.botFrame, nil, -1)
}

// SetQuit makes every following event return ErrQuit.
func (e *Engine) SetQuit() {
	e.stopFrame = e.botFrame
	e.returnFrame = nil
	e.quitting = true
}
