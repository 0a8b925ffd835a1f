package trace

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/stardbg/pkg/breakpoint"
)

type anyLine struct{}

func (anyLine) Line(string, int) (string, bool) { return "x = 1", true }

// recorder records stops and runs the scripted reaction for each of them.
type recorder struct {
	stops   []string
	cleared []int
	react   func(kind string, f *Frame)
}

func (r *recorder) stop(kind string, f *Frame) error {
	r.stops = append(r.stops, fmt.Sprintf("%s %s:%d", kind, f.Name, f.Line))
	if r.react != nil {
		r.react(kind, f)
	}
	return nil
}

func (r *recorder) UserCall(f *Frame, args map[string]string) error { return r.stop("call", f) }
func (r *recorder) UserLine(f *Frame) error                         { return r.stop("line", f) }
func (r *recorder) UserReturn(f *Frame, retval string) error        { return r.stop("return", f) }
func (r *recorder) UserException(f *Frame, exc *Exception) error    { return r.stop("exception", f) }
func (r *recorder) BreakpointCleared(bp *breakpoint.Breakpoint) {
	r.cleared = append(r.cleared, bp.Number)
}

// script drives an engine through a toplevel frame that calls fn on line 2.
type script struct {
	t    *testing.T
	e    *Engine
	root *Frame
	top  *Frame
}

func newScript(t *testing.T, bps *breakpoint.Registry, rec *recorder, skip ...string) *script {
	e, err := New(bps, rec, skip)
	require.NoError(t, err)
	root := &Frame{Name: "<engine>", Filename: "<engine>"}
	return &script{t: t, e: e, root: root}
}

func (s *script) line(f *Frame, n int) {
	f.Line = n
	require.NoError(s.t, s.e.Line(f))
}

func (s *script) run() {
	s.top = &Frame{Name: "<toplevel>", Filename: "/tmp/main.star", Back: s.root}
	require.NoError(s.t, s.e.Call(s.top, nil))
	s.line(s.top, 1)
	s.line(s.top, 2)
	fn := &Frame{Name: "fn", Filename: "/tmp/main.star", Back: s.top, Line: 5}
	require.NoError(s.t, s.e.Call(fn, map[string]string{"a": "1"}))
	s.line(fn, 6)
	s.line(fn, 7)
	require.NoError(s.t, s.e.Return(fn, "2"))
	s.line(s.top, 3)
	require.NoError(s.t, s.e.Return(s.top, "None"))
}

func TestStepStopsEverywhere(t *testing.T) {
	rec := &recorder{}
	s := newScript(t, breakpoint.NewRegistry(anyLine{}), rec)
	s.run()
	require.Equal(t, []string{
		"line <toplevel>:1",
		"line <toplevel>:2",
		"call fn:5",
		"line fn:6",
		"line fn:7",
		"return fn:7",
		"line <toplevel>:3",
		"return <toplevel>:3",
	}, rec.stops)
}

func TestContinueStopsOnBreakpoints(t *testing.T) {
	bps := breakpoint.NewRegistry(anyLine{})
	_, err := bps.Create("/tmp/main.star", 7, false)
	require.NoError(t, err)
	rec := &recorder{}
	s := newScript(t, bps, rec)
	var hit []int
	rec.react = func(string, *Frame) {
		hit = append(hit, s.e.CurrentBreakpoint)
		s.e.SetContinue()
	}
	s.run()
	require.Equal(t, []string{"line <toplevel>:1", "line fn:7"}, rec.stops)
	require.Equal(t, []int{0, 1}, hit)
}

func TestNextStaysInFrame(t *testing.T) {
	rec := &recorder{}
	s := newScript(t, breakpoint.NewRegistry(anyLine{}), rec)
	rec.react = func(kind string, f *Frame) { s.e.SetNext(f) }
	s.run()
	require.Equal(t, []string{
		"line <toplevel>:1",
		"line <toplevel>:2",
		"line <toplevel>:3",
		"return <toplevel>:3",
	}, rec.stops)
}

func TestReturnStopsInCaller(t *testing.T) {
	rec := &recorder{}
	s := newScript(t, breakpoint.NewRegistry(anyLine{}), rec)
	rec.react = func(kind string, f *Frame) {
		switch {
		case kind == "line" && f.Name == "fn":
			s.e.SetReturn(f)
		case kind == "return" && f.Name == "fn":
			// keep stopping in the caller
		default:
			s.e.SetStep()
		}
	}
	s.run()
	require.Equal(t, []string{
		"line <toplevel>:1",
		"line <toplevel>:2",
		"call fn:5",
		"line fn:6",
		"return fn:7",
		"line <toplevel>:3",
		"return <toplevel>:3",
	}, rec.stops)
}

func TestNextWhileReturningSteps(t *testing.T) {
	rec := &recorder{}
	s := newScript(t, breakpoint.NewRegistry(anyLine{}), rec)
	rec.react = func(kind string, f *Frame) {
		if kind == "return" && f.Name == "fn" {
			s.e.SetNext(f)
			return
		}
		s.e.SetStep()
	}
	s.run()
	require.Equal(t, []string{
		"line <toplevel>:1",
		"line <toplevel>:2",
		"call fn:5",
		"line fn:6",
		"line fn:7",
		"return fn:7",
		"line <toplevel>:3",
		"return <toplevel>:3",
	}, rec.stops)
}

func TestTemporaryBreakpointCleared(t *testing.T) {
	bps := breakpoint.NewRegistry(anyLine{})
	bp, err := bps.Create("/tmp/main.star", 6, true)
	require.NoError(t, err)
	rec := &recorder{}
	s := newScript(t, bps, rec)
	rec.react = func(string, *Frame) { s.e.SetContinue() }
	s.run()
	require.Equal(t, []string{"line <toplevel>:1", "line fn:6"}, rec.stops)
	require.Equal(t, []int{bp.Number}, rec.cleared)
	require.Zero(t, bps.Len())
}

func TestQuit(t *testing.T) {
	rec := &recorder{}
	s := newScript(t, breakpoint.NewRegistry(anyLine{}), rec)
	rec.react = func(string, *Frame) { s.e.SetQuit() }
	top := &Frame{Name: "<toplevel>", Filename: "/tmp/main.star", Back: s.root}
	require.NoError(t, s.e.Call(top, nil))
	top.Line = 1
	require.Equal(t, ErrQuit, s.e.Line(top))
	top.Line = 2
	require.Equal(t, ErrQuit, s.e.Line(top))
	require.Len(t, rec.stops, 1)

	// Reset forgets the quit request.
	rec.react = nil
	s.e.Reset()
	require.NoError(t, s.e.Call(top, nil))
	top.Line = 1
	require.NoError(t, s.e.Line(top))
}

func TestSkip(t *testing.T) {
	rec := &recorder{}
	s := newScript(t, breakpoint.NewRegistry(anyLine{}), rec, "/tmp/**/lib*.star")
	top := &Frame{Name: "<toplevel>", Filename: "/tmp/main.star", Back: s.root}
	require.NoError(t, s.e.Call(top, nil))
	lib := &Frame{Name: "helper", Filename: "/tmp/x/libutil.star", Back: top, Line: 1}
	require.NoError(t, s.e.Call(lib, nil))
	require.NoError(t, s.e.Line(lib))
	top.Line = 4
	require.NoError(t, s.e.Line(top))
	require.Equal(t, []string{"line <toplevel>:4"}, rec.stops)

	_, err := New(breakpoint.NewRegistry(nil), rec, []string{"[unterminated"})
	require.Error(t, err)
}

func TestFrameLocals(t *testing.T) {
	f := &Frame{Name: "fn"}
	f.SetLocal("__return__", "42")
	require.Equal(t, map[string]string{"__return__": "42"}, f.Locals())
	require.Empty(t, f.Globals())

	child := &Frame{Name: "child", Back: f}
	stack := child.Stack()
	require.Equal(t, []*Frame{f, child}, stack)
}
