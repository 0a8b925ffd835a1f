package starhost

import (
	"unicode/utf8"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/stardbg/pkg/trace"
)

const toplevelName = "<toplevel>"

type funcKey struct {
	filename  string
	line, col int32
}

func keyOf(pos syntax.Position) funcKey {
	return funcKey{pos.Filename(), pos.Line, pos.Col}
}

// activation is a Starlark function call being traced. Starlark reuses
// its frame objects so activations are identified by their depth in the
// thread's call stack.
type activation struct {
	depth int
	fn    *starlark.Function
	frame *trace.Frame
	// names of the local variables by index, parameters first.
	names []string
}

func (act *activation) toplevel() bool {
	return act.fn.Name() == toplevelName
}

// recordFunctions remembers the local variable names of every function
// declared in f, the interpreter only exposes their values.
func (h *Host) recordFunctions(f *syntax.File) {
	syntax.Walk(f, func(n syntax.Node) bool {
		var fn *resolve.Function
		switch n := n.(type) {
		case *syntax.DefStmt:
			fn, _ = n.Function.(*resolve.Function)
		case *syntax.LambdaExpr:
			fn, _ = n.Function.(*resolve.Function)
		}
		if fn != nil {
			names := make([]string, len(fn.Locals))
			for i, b := range fn.Locals {
				if b.First != nil {
					names[i] = b.First.Name
				}
			}
			h.funcs[keyOf(fn.Pos)] = names
		}
		return true
	})
}

// popAbove discards the activations deeper than depth. They belong to
// calls that ended because of an error.
func (h *Host) popAbove(depth int) {
	for len(h.acts) > 0 && h.acts[len(h.acts)-1].depth > depth {
		h.acts = h.acts[:len(h.acts)-1]
	}
}

// current returns the innermost live activation at or above depth.
func (h *Host) current(depth int) *activation {
	h.popAbove(depth)
	if len(h.acts) == 0 {
		return nil
	}
	return h.acts[len(h.acts)-1]
}

func (h *Host) traceCall(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	depth := thread.CallStackDepth() - 2
	h.popAbove(depth - 1)
	caller := thread.DebugFrame(1)
	fn, ok := caller.Callable().(*starlark.Function)
	if !ok {
		return starlark.None, nil
	}
	parent := h.root
	if n := len(h.acts); n > 0 {
		parent = h.acts[n-1].frame
	}
	pos := fn.Position()
	act := &activation{depth: depth, fn: fn}
	if !act.toplevel() {
		act.names = h.funcs[keyOf(pos)]
	}
	act.frame = &trace.Frame{
		Filename: pos.Filename(),
		Name:     fn.Name(),
		Line:     int(pos.Line),
		Col:      int(pos.Col),
		Back:     parent,
		Scope:    &scope{h: h, act: act},
	}
	h.acts = append(h.acts, act)

	params := make(map[string]string, fn.NumParams())
	for i := 0; i < fn.NumParams(); i++ {
		name, _ := fn.Param(i)
		if v := caller.Local(i); v != nil {
			params[name] = h.repr(v)
		}
	}
	if err := h.engine.Call(act.frame, params); err != nil {
		return nil, &stopError{err}
	}
	return starlark.None, nil
}

func (h *Host) traceLine(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var line int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &line); err != nil {
		return nil, err
	}
	act := h.current(thread.CallStackDepth() - 2)
	if act == nil {
		return starlark.None, nil
	}
	act.frame.Line = line
	act.frame.Col = int(thread.CallFrame(1).Pos.Col)
	if err := h.engine.Line(act.frame); err != nil {
		return nil, &stopError{err}
	}
	return starlark.None, nil
}

func (h *Host) traceReturn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &v); err != nil {
		return nil, err
	}
	depth := thread.CallStackDepth() - 2
	act := h.current(depth)
	if act == nil {
		return v, nil
	}
	err := h.engine.Return(act.frame, h.repr(v))
	if act.depth == depth {
		h.acts = h.acts[:len(h.acts)-1]
	}
	if err != nil {
		return nil, &stopError{err}
	}
	return v, nil
}

func (h *Host) repr(v starlark.Value) string {
	s := v.String()
	if max := h.cfg.MaxReprLen; len(s) > max {
		for max > 0 && !utf8.RuneStart(s[max]) {
			max--
		}
		s = s[:max] + "..."
	}
	return s
}

func (h *Host) reprDict(d starlark.StringDict) map[string]string {
	r := make(map[string]string, len(d))
	for k, v := range d {
		r[k] = h.repr(v)
	}
	return r
}

// scope reads the variables of a live activation.
type scope struct {
	h   *Host
	act *activation
}

func (s *scope) Locals() map[string]string {
	if s.act.toplevel() {
		return s.Globals()
	}
	r := make(map[string]string)
	thread := s.h.thread
	if thread == nil {
		return r
	}
	depth := thread.CallStackDepth() - 1 - s.act.depth
	if depth < 0 {
		return r
	}
	fr := thread.DebugFrame(depth)
	if fr.Callable() != starlark.Callable(s.act.fn) {
		return r
	}
	for i, name := range s.act.names {
		if name == "" {
			continue
		}
		if v := fr.Local(i); v != nil {
			r[name] = s.h.repr(v)
		}
	}
	return r
}

func (s *scope) Globals() map[string]string {
	return s.h.reprDict(s.act.fn.Globals())
}

func (s *scope) Builtins() map[string]string {
	r := make(map[string]string, len(s.h.builtins))
	for k, v := range s.h.builtins {
		r[k] = v
	}
	return r
}
