// Package starhost executes Starlark scripts under the control of a
// trace.Engine.
//
// The script is instrumented before compilation (see instrument) and run
// from a synthetic "<string>" unit whose only statement calls the
// __debug_exec__ builtin, mirroring how a trace based debugger execs the
// target from its own code. The stack of frames handed to the engine is
// therefore
//
//	<engine> -> <string> -> <toplevel> of the script -> functions...
package starhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/stardbg/pkg/breakpoint"
	"github.com/go-delve/stardbg/pkg/logflags"
	"github.com/go-delve/stardbg/pkg/trace"
)

const (
	// ExecUnit is the filename of the synthetic unit that runs the script.
	ExecUnit = "<string>"
	// EngineUnit is the filename of the root frame of every stack.
	EngineUnit = "<engine>"

	bootstrapSource = execName + "()\n"

	// DefaultMaxReprLen is the maximum length of a value repr.
	DefaultMaxReprLen = 512
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Config describes the script to run.
type Config struct {
	// Script is the path of the script to run.
	Script string
	// Args are passed to the script as the predeclared argv list, after
	// the script path.
	Args []string
	// Stdout receives the output of print. Defaults to os.Stdout.
	Stdout io.Writer
	// MaxReprLen truncates the repr of values reported in frames.
	MaxReprLen int
	// Sources, if set, is told about the text of every file compiled.
	Sources SourceSetter
}

// SourceSetter records the source text of compiled files.
type SourceSetter interface {
	Set(filename string, src []byte)
}

// ScriptError is returned by Run when the script dies of an uncaught
// error.
type ScriptError struct {
	Err       error
	Traceback string
}

func (e *ScriptError) Error() string {
	return e.Err.Error()
}

func (e *ScriptError) Unwrap() error { return e.Err }

// stopError carries an error returned by the engine (either trace.ErrQuit
// or an error of the hooks) through the Starlark interpreter.
type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Host runs a script. A Host can be run multiple times, every run starts
// from a fresh interpreter state.
type Host struct {
	cfg Config
	log logflags.Logger

	// state of the current run
	engine      *trace.Engine
	thread      *starlark.Thread
	root        *trace.Frame
	acts        []*activation
	funcs       map[funcKey][]string
	predeclared starlark.StringDict
	builtins    map[string]string
	modules     map[string]*loadEntry
}

// New returns a host for the script described by cfg.
func New(cfg Config) *Host {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.MaxReprLen <= 0 {
		cfg.MaxReprLen = DefaultMaxReprLen
	}
	return &Host{cfg: cfg, log: logflags.EngineLogger()}
}

// Run executes the script once, reporting events to e. It returns nil if
// the script completes, the error returned by the engine if it stopped
// the execution (trace.ErrQuit or an error of its hooks), or a
// *ScriptError if the script failed.
func (h *Host) Run(ctx context.Context, e *trace.Engine) error {
	h.engine = e
	h.thread = &starlark.Thread{
		Name:  "main",
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(h.cfg.Stdout, msg) },
		Load:  h.load,
	}
	h.root = &trace.Frame{Filename: EngineUnit, Name: "run"}
	h.acts = nil
	h.funcs = make(map[funcKey][]string)
	h.modules = make(map[string]*loadEntry)
	h.predeclared = h.makePredeclared()
	h.builtins = h.makeBuiltins()
	defer func() {
		h.thread = nil
		h.acts = nil
	}()

	done := make(chan struct{})
	defer close(done)
	go func(thread *starlark.Thread) {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}(h.thread)

	env := h.traceBuiltins(true)
	boot, err := h.compile(ExecUnit, []byte(bootstrapSource), env)
	if err != nil {
		return err
	}
	_, err = boot.Init(h.thread, env)
	if err == nil {
		return nil
	}
	var serr *stopError
	if errors.As(err, &serr) {
		return serr.err
	}
	return &ScriptError{Err: err, Traceback: traceback(err)}
}

func traceback(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}

// compile parses, instruments and compiles a file.
func (h *Host) compile(filename string, src []byte, predeclared starlark.StringDict) (*starlark.Program, error) {
	if h.cfg.Sources != nil {
		h.cfg.Sources.Set(filename, src)
	}
	f, err := syntax.Parse(filename, src, 0)
	if err != nil {
		return nil, err
	}
	instrument(f)
	prog, err := starlark.FileProgram(f, predeclared.Has)
	if err != nil {
		return nil, err
	}
	h.recordFunctions(f)
	return prog, nil
}

// execBuiltin runs the script from the synthetic exec unit.
func (h *Host) execBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	_, err := h.exec(thread, h.cfg.Script)
	if err == nil {
		return starlark.None, nil
	}
	var serr *stopError
	if errors.As(err, &serr) {
		return nil, err
	}
	// The error is unwinding through the exec unit: report it there.
	if act := h.current(thread.CallStackDepth() - 2); act != nil {
		if herr := h.exception(act, "Error", err); herr != nil {
			return nil, herr
		}
	}
	return nil, err
}

func (h *Host) exec(thread *starlark.Thread, filename string) (starlark.StringDict, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	prog, err := h.compile(filename, src, h.predeclared)
	if err != nil {
		return nil, err
	}
	return prog.Init(thread, h.predeclared)
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

// load implements the load statement: module is a path relative to the
// directory of the loading file. Loaded files are debugged like the main
// script.
func (h *Host) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	dir := filepath.Dir(h.cfg.Script)
	if thread.CallStackDepth() > 0 {
		if fn := thread.CallFrame(0).Pos.Filename(); fn != "" && fn != ExecUnit {
			dir = filepath.Dir(fn)
		}
	}
	filename := module
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(dir, filename)
	}
	filename = breakpoint.Canonical(filename)
	e, ok := h.modules[filename]
	if ok {
		if e == nil {
			return nil, fmt.Errorf("cycle in load graph involving %s", module)
		}
		return e.globals, e.err
	}
	h.modules[filename] = nil
	h.log.Debugf("loading %s", filename)
	globals, err := h.exec(thread, filename)
	if err == nil {
		globals.Freeze()
	}
	h.modules[filename] = &loadEntry{globals, err}
	return globals, err
}

func (h *Host) traceBuiltins(withExec bool) starlark.StringDict {
	d := starlark.StringDict{
		traceCallName:   starlark.NewBuiltin(traceCallName, h.traceCall),
		traceLineName:   starlark.NewBuiltin(traceLineName, h.traceLine),
		traceReturnName: starlark.NewBuiltin(traceReturnName, h.traceReturn),
	}
	if withExec {
		d[execName] = starlark.NewBuiltin(execName, h.execBuiltin)
	}
	return d
}

// makePredeclared returns the environment of the script: the trace
// builtins, argv and a wrapped copy of every universal builtin which
// reports its failures to the engine.
func (h *Host) makePredeclared() starlark.StringDict {
	d := h.traceBuiltins(false)
	for name, v := range starlark.Universe {
		if b, ok := v.(*starlark.Builtin); ok {
			d[name] = starlark.NewBuiltin(name, h.wrapBuiltin(b))
		}
	}
	argv := make([]starlark.Value, 0, len(h.cfg.Args)+1)
	argv = append(argv, starlark.String(h.cfg.Script))
	for _, arg := range h.cfg.Args {
		argv = append(argv, starlark.String(arg))
	}
	d["argv"] = starlark.NewList(argv)
	return d
}

func (h *Host) makeBuiltins() map[string]string {
	r := make(map[string]string)
	add := func(d starlark.StringDict) {
		for name, v := range d {
			if strings.HasPrefix(name, "__") {
				continue
			}
			r[name] = h.repr(v)
		}
	}
	add(starlark.Universe)
	add(h.predeclared)
	return r
}

func (h *Host) wrapBuiltin(orig *starlark.Builtin) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		v, err := orig.CallInternal(thread, args, kwargs)
		if err == nil {
			return v, nil
		}
		var serr *stopError
		if errors.As(err, &serr) {
			return nil, err
		}
		if act := h.current(thread.CallStackDepth() - 2); act != nil {
			if herr := h.exception(act, orig.Name(), err); herr != nil {
				return nil, herr
			}
		}
		return nil, err
	}
}

func (h *Host) exception(act *activation, name string, err error) error {
	act.frame.Exception = &trace.Exception{Name: name, Value: err.Error(), Traceback: traceback(err)}
	if eerr := h.engine.Exception(act.frame, act.frame.Exception); eerr != nil {
		return &stopError{eerr}
	}
	return nil
}
