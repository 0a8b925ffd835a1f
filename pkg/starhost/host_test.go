package starhost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/go-delve/stardbg/pkg/breakpoint"
	"github.com/go-delve/stardbg/pkg/trace"
)

// stepper stops everywhere and records every stop.
type stepper struct {
	events []string
	onStop func(kind string, f *trace.Frame) error
}

func (s *stepper) record(kind string, f *trace.Frame, extra string) error {
	name := filepath.Base(f.Filename)
	s.events = append(s.events, strings.TrimSpace(fmt.Sprintf("%s %s %s:%d %s", kind, f.Name, name, f.Line, extra)))
	if s.onStop != nil {
		return s.onStop(kind, f)
	}
	return nil
}

func (s *stepper) UserCall(f *trace.Frame, args map[string]string) error {
	extra := ""
	if len(args) > 0 {
		extra = fmt.Sprint(args)
	}
	return s.record("call", f, extra)
}

func (s *stepper) UserLine(f *trace.Frame) error { return s.record("line", f, "") }

func (s *stepper) UserReturn(f *trace.Frame, retval string) error {
	return s.record("return", f, retval)
}

func (s *stepper) UserException(f *trace.Frame, exc *trace.Exception) error {
	return s.record("exception", f, exc.Name+": "+exc.Value)
}

func (s *stepper) BreakpointCleared(bp *breakpoint.Breakpoint) {}

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func newEngine(t *testing.T, hooks trace.Hooks) *trace.Engine {
	e, err := trace.New(breakpoint.NewRegistry(nil), hooks, nil)
	require.NoError(t, err)
	return e
}

const addScript = `def add(a, b):
    c = a + b
    return c

x = add(1, 2)
print(x)
`

func TestStepThroughScript(t *testing.T) {
	path := writeScript(t, t.TempDir(), "add.star", addScript)
	var out bytes.Buffer
	h := New(Config{Script: path, Stdout: &out})
	s := &stepper{}
	var locals, globals map[string]string
	var stack []string
	s.onStop = func(kind string, f *trace.Frame) error {
		if kind == "line" && f.Name == "add" && f.Line == 3 {
			locals = f.Locals()
			for _, fr := range f.Stack() {
				stack = append(stack, fr.Filename)
			}
		}
		if kind == "line" && f.Line == 6 {
			globals = f.Globals()
		}
		return nil
	}
	require.NoError(t, h.Run(context.Background(), newEngine(t, s)))
	require.Equal(t, "3\n", out.String())
	require.Equal(t, []string{
		"line <toplevel> <string>:1",
		"call <toplevel> add.star:1",
		"line <toplevel> add.star:1",
		"line <toplevel> add.star:5",
		"call add add.star:1 map[a:1 b:2]",
		"line add add.star:2",
		"line add add.star:3",
		"return add add.star:3 3",
		"line <toplevel> add.star:6",
		"return <toplevel> add.star:6 None",
		"return <toplevel> <string>:1 None",
	}, s.events)
	require.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, locals)
	require.Equal(t, "3", globals["x"])
	require.Equal(t, "<function add>", globals["add"])
	require.Equal(t, []string{EngineUnit, ExecUnit, breakpoint.Canonical(path), breakpoint.Canonical(path)}, stack)
}

func TestBuiltinFailureReportsException(t *testing.T) {
	path := writeScript(t, t.TempDir(), "fail.star", "x = 1\nfail(\"boom\")\n")
	h := New(Config{Script: path, Stdout: &bytes.Buffer{}})
	s := &stepper{}
	err := h.Run(context.Background(), newEngine(t, s))
	var serr *ScriptError
	require.True(t, errors.As(err, &serr), "%v", err)
	require.Contains(t, serr.Traceback, "boom")
	require.Contains(t, s.events, "exception <toplevel> fail.star:2 fail: fail: boom")
	require.Equal(t, "exception <toplevel> <string>:1 Error: fail: boom", s.events[len(s.events)-1])
}

func TestQuitUnwinds(t *testing.T) {
	path := writeScript(t, t.TempDir(), "add.star", addScript)
	var out bytes.Buffer
	h := New(Config{Script: path, Stdout: &out})
	s := &stepper{}
	e := newEngine(t, s)
	s.onStop = func(kind string, f *trace.Frame) error {
		if kind == "line" && f.Line == 5 {
			e.SetQuit()
		}
		return nil
	}
	require.Equal(t, trace.ErrQuit, h.Run(context.Background(), e))
	require.Empty(t, out.String())
}

func TestHookErrorUnwinds(t *testing.T) {
	errRestart := errors.New("restart")
	path := writeScript(t, t.TempDir(), "add.star", addScript)
	h := New(Config{Script: path, Stdout: &bytes.Buffer{}})
	s := &stepper{}
	s.onStop = func(kind string, f *trace.Frame) error {
		if kind == "line" && f.Name == "add" {
			return errRestart
		}
		return nil
	}
	require.Equal(t, errRestart, h.Run(context.Background(), newEngine(t, s)))

	// a second run starts from scratch
	s.events, s.onStop = nil, nil
	require.NoError(t, h.Run(context.Background(), newEngine(t, s)))
	require.Equal(t, "line <toplevel> <string>:1", s.events[0])
}

const controlFlowScript = `def classify(n):
    if n < 0:
        return "negative"
    elif n == 0:
        return "zero"
    else:
        pass

def count(xs):
    total = 0
    for x in xs:
        total += x
    i = 0
    while i < 3:
        i += 1
    return total + i

def outer():
    def inner(v):
        return v * 2
    return inner(21)

result = [classify(-1), classify(0), classify(1), count([1, 2, 3]), outer(), len(argv)]
print(result)
`

func TestInstrumentedControlFlow(t *testing.T) {
	path := writeScript(t, t.TempDir(), "flow.star", controlFlowScript)
	var out bytes.Buffer
	h := New(Config{Script: path, Args: []string{"a", "b"}, Stdout: &out})
	s := &stepper{}
	e := newEngine(t, s)
	s.onStop = func(string, *trace.Frame) error {
		e.SetContinue()
		return nil
	}
	require.NoError(t, h.Run(context.Background(), e))
	require.Equal(t, `["negative", "zero", None, 9, 42, 3]`+"\n", out.String())
	require.Len(t, s.events, 1)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "lib.star", "def double(n):\n    return n * 2\n")
	path := writeScript(t, dir, "main.star", "load(\"lib.star\", \"double\")\nprint(double(2))\n")
	var out bytes.Buffer
	h := New(Config{Script: path, Stdout: &out})
	s := &stepper{}
	require.NoError(t, h.Run(context.Background(), newEngine(t, s)))
	require.Equal(t, "4\n", out.String())
	require.Contains(t, s.events, "call double lib.star:1 map[n:2]")
	require.Contains(t, s.events, "call <toplevel> lib.star:1")
}

func TestSyntaxErrorIsFatal(t *testing.T) {
	path := writeScript(t, t.TempDir(), "bad.star", "x = (\n")
	h := New(Config{Script: path, Stdout: &bytes.Buffer{}})
	s := &stepper{}
	err := h.Run(context.Background(), newEngine(t, s))
	var serr *ScriptError
	require.True(t, errors.As(err, &serr), "%v", err)
	require.Equal(t, "line <toplevel> <string>:1", s.events[0])
}

func TestRepr(t *testing.T) {
	h := New(Config{Script: "x.star", MaxReprLen: 4})
	require.Equal(t, `"abc...`, h.repr(starlark.String("abcdef")))
}
