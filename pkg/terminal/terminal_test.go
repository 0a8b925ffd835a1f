package terminal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/stardbg/pkg/breakpoint"
	"github.com/go-delve/stardbg/pkg/config"
	"github.com/go-delve/stardbg/service/api"
	"github.com/go-delve/stardbg/service/client"
	"github.com/go-delve/stardbg/service/runner"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []string
	bps   map[int]*breakpoint.Breakpoint
	stack []api.StackEntry
}

func newFakeClient() *fakeClient {
	return &fakeClient{bps: map[int]*breakpoint.Breakpoint{}}
}

func (c *fakeClient) record(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeClient) takeCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.calls
	c.calls = nil
	return r
}

func (c *fakeClient) CreateBreakpoint(filename string, line int, temporary bool) {
	c.record("break %s:%d %v", filename, line, temporary)
}
func (c *fakeClient) EnableBreakpoint(bp *breakpoint.Breakpoint)  { c.record("enable %d", bp.Number) }
func (c *fakeClient) DisableBreakpoint(bp *breakpoint.Breakpoint) { c.record("disable %d", bp.Number) }
func (c *fakeClient) IgnoreBreakpoint(bp *breakpoint.Breakpoint, count int) {
	c.record("ignore %d %d", bp.Number, count)
}
func (c *fakeClient) ClearBreakpoint(bp *breakpoint.Breakpoint) { c.record("clear %d", bp.Number) }
func (c *fakeClient) Run()                                      { c.record("continue") }
func (c *fakeClient) Step()                                     { c.record("step") }
func (c *fakeClient) Next()                                     { c.record("next") }
func (c *fakeClient) Return()                                   { c.record("return") }
func (c *fakeClient) Restart()                                  { c.record("restart") }
func (c *fakeClient) Quit()                                     { c.record("quit") }

func (c *fakeClient) Breakpoint(n int) (*breakpoint.Breakpoint, error) {
	if bp, ok := c.bps[n]; ok {
		return bp, nil
	}
	return nil, breakpoint.UnknownBreakpointError{Number: n}
}

func (c *fakeClient) BreakpointAt(filename string, line int) (*breakpoint.Breakpoint, error) {
	for _, bp := range c.bps {
		if bp.Filename == filename && bp.Line == line {
			return bp, nil
		}
	}
	return nil, breakpoint.UnknownBreakpointError{Filename: filename, Line: line}
}

func (c *fakeClient) Breakpoints(filename string) []*breakpoint.Breakpoint {
	var r []*breakpoint.Breakpoint
	for _, bp := range c.bps {
		if filename == "" || bp.Filename == filename {
			r = append(r, bp)
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Number < r[j].Number })
	return r
}

func (c *fakeClient) Stack() []api.StackEntry { return c.stack }

type scriptedInput struct {
	mu    sync.Mutex
	lines []string
}

func (s *scriptedInput) Prompt(string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	l := s.lines[0]
	s.lines = s.lines[1:]
	return l, nil
}

func (s *scriptedInput) AppendHistory(string) {}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestTerm(t *testing.T, conf *config.Config, lines ...string) (*Term, *fakeClient, *syncBuffer, *syncBuffer) {
	t.Helper()
	stdout, stderr := new(syncBuffer), new(syncBuffer)
	term := newTerm(conf, &scriptedInput{lines: lines}, stdout, stderr, true)
	fc := newFakeClient()
	term.SetClient(fc)
	return term, fc, stdout, stderr
}

const source = `a = 1
b = 2
def f(x):
    y = x + a
    return y
c = f(b)
`

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.star")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return breakpoint.Canonical(path)
}

func stopAt(path string) []api.StackEntry {
	return []api.StackEntry{
		{Line: 6, Frame: api.Frame{Filename: path, Locals: map[string]string{"a": "1", "b": "2", "f": "<function f>"}, Globals: map[string]string{"a": "1", "b": "2", "f": "<function f>"}}},
		{Line: 4, Frame: api.Frame{Filename: path, Locals: map[string]string{"x": "2"}, Globals: map[string]string{"a": "1", "b": "2", "f": "<function f>"}, Current: true}},
	}
}

func TestCommandAliases(t *testing.T) {
	term, fc, _, _ := newTestTerm(t, &config.Config{Aliases: map[string][]string{"next": {"nn"}}})

	for _, cmd := range []string{"c", "continue", "s", "n", "nn", "so", "return", "r"} {
		require.NoError(t, term.cmds.Call(cmd, term))
	}
	require.Equal(t, []string{"continue", "continue", "step", "next", "next", "return", "return", "restart"}, fc.takeCalls())

	require.Equal(t, errNoCmd, term.cmds.Call("frobnicate", term))
	require.NoError(t, term.cmds.Call("", term))

	err := term.cmds.Call("quit", term)
	require.IsType(t, ExitRequestError{}, err)
	require.Equal(t, []string{"quit"}, fc.takeCalls())
}

func TestComplete(t *testing.T) {
	cmds := DebugCommands()
	require.Equal(t, []string{"b", "bp", "break", "breakpoints", "bt"}, cmds.complete("b"))
	require.Equal(t, []string{"break", "breakpoints"}, cmds.complete("BRE"))
	require.Nil(t, cmds.complete("break "))

	cmds.Merge(map[string][]string{"breakpoints": {"brk"}})
	require.Equal(t, []string{"break", "breakpoints", "brk"}, cmds.complete("br"))
}

func TestHelp(t *testing.T) {
	term, _, stdout, _ := newTestTerm(t, nil)
	require.NoError(t, term.cmds.Call("help", term))
	out := stdout.String()
	require.Contains(t, out, "Manipulating breakpoints:")
	require.Contains(t, out, "break (alias: b)")
	require.Contains(t, out, "Ignores the next crossings of a breakpoint.")

	require.NoError(t, term.cmds.Call("help tb", term))
	require.Contains(t, stdout.String(), "tbreak [<file>:]<line>")

	require.Equal(t, errNoCmd, term.cmds.Call("help nope", term))
}

func TestBreakCommands(t *testing.T) {
	path := writeSource(t)
	term, fc, _, _ := newTestTerm(t, nil)

	err := term.cmds.Call("break 4", term)
	require.EqualError(t, err, "no current file, specify <file>:<line>")

	fc.stack = stopAt(path)
	require.NoError(t, term.cmds.Call("break 4", term))
	require.NoError(t, term.cmds.Call(fmt.Sprintf("tbreak %q", path+":5"), term))
	require.Equal(t, []string{
		fmt.Sprintf("break %s:4 false", path),
		fmt.Sprintf("break %s:5 true", path),
	}, fc.takeCalls())

	require.EqualError(t, term.cmds.Call("break x", term), `invalid line number "x"`)
	require.EqualError(t, term.cmds.Call("break 1 2", term), "wrong number of arguments, expected [<file>:]<line>")
	require.Empty(t, fc.takeCalls())
}

func TestBreakpointNumberCommands(t *testing.T) {
	path := writeSource(t)
	term, fc, stdout, _ := newTestTerm(t, nil)
	fc.bps[1] = &breakpoint.Breakpoint{Number: 1, Filename: path, Line: 4, Enabled: true}
	fc.bps[2] = &breakpoint.Breakpoint{Number: 2, Filename: path, Line: 5, Enabled: false, Ignore: 2}

	require.NoError(t, term.cmds.Call("enable 1 2", term))
	require.NoError(t, term.cmds.Call("disable 1", term))
	require.NoError(t, term.cmds.Call("ignore 2 3", term))
	require.NoError(t, term.cmds.Call("clear 2", term))
	require.NoError(t, term.cmds.Call("clear "+path+":4", term))
	require.Equal(t, []string{"enable 1", "enable 2", "disable 1", "ignore 2 3", "clear 2", "clear 1"}, fc.takeCalls())

	require.EqualError(t, term.cmds.Call("enable 7", term), "No breakpoint numbered 7")
	require.EqualError(t, term.cmds.Call("disable one", term), `invalid breakpoint number "one"`)
	require.EqualError(t, term.cmds.Call("ignore 1", term), "wrong number of arguments, expected <breakpoint number> <count>")
	require.EqualError(t, term.cmds.Call("ignore 1 -1", term), `invalid count "-1"`)
	require.EqualError(t, term.cmds.Call("clear", term), "not enough arguments")
	require.Empty(t, fc.takeCalls())

	require.NoError(t, term.cmds.Call("breakpoints", term))
	out := stdout.String()
	require.Contains(t, out, fmt.Sprintf("Breakpoint 1 at %s:4\n", path))
	require.Contains(t, out, fmt.Sprintf("Breakpoint 2 at %s:5 (disabled, ignore next 2)\n", path))
}

func TestVariables(t *testing.T) {
	path := writeSource(t)
	term, fc, stdout, _ := newTestTerm(t, nil)

	require.EqualError(t, term.cmds.Call("locals", term), "no frame selected, the script is not stopped")

	fc.stack = stopAt(path)
	require.NoError(t, term.cmds.Call("locals", term))
	require.Equal(t, "x = 2\n", stdout.String())

	stdout.buf.Reset()
	require.NoError(t, term.cmds.Call("globals ^[ab]$", term))
	require.Equal(t, "a = 1\nb = 2\n", stdout.String())

	stdout.buf.Reset()
	require.NoError(t, term.cmds.Call("globals zzz", term))
	require.Equal(t, "(no variables)\n", stdout.String())

	require.Error(t, term.cmds.Call("locals (", term))
}

func TestStackAndFrames(t *testing.T) {
	path := writeSource(t)
	term, fc, stdout, _ := newTestTerm(t, nil)
	fc.stack = stopAt(path)

	require.NoError(t, term.cmds.Call("stack", term))
	require.Equal(t, fmt.Sprintf("=>0  %s:4\n  1  %s:6\n", path, path), stdout.String())

	require.NoError(t, term.cmds.Call("up", term))
	require.Equal(t, 1, term.cmds.selectedFrame())
	stdout.buf.Reset()
	require.NoError(t, term.cmds.Call("locals", term))
	require.Equal(t, "a = 1\nb = 2\nf = <function f>\n", stdout.String())

	require.EqualError(t, term.cmds.Call("up", term), "invalid frame 2")
	require.NoError(t, term.cmds.Call("down", term))
	require.Equal(t, 0, term.cmds.selectedFrame())
	require.NoError(t, term.cmds.Call("frame 1", term))
	require.Equal(t, 1, term.cmds.selectedFrame())
	require.Error(t, term.cmds.Call("frame x", term))

	// A new stop selects the innermost frame again.
	term.OnStack(fc.stack)
	require.Equal(t, 0, term.cmds.selectedFrame())
}

func TestListAndContext(t *testing.T) {
	path := writeSource(t)
	term, fc, stdout, _ := newTestTerm(t, nil)
	fc.stack = stopAt(path)

	term.OnStack(fc.stack)
	out := stdout.String()
	require.True(t, strings.HasPrefix(out, fmt.Sprintf("> %s:4\n", path)), out)
	require.Contains(t, out, "     3:\tdef f(x):\n")
	require.Contains(t, out, "=>   4:\t    y = x + a\n")

	stdout.buf.Reset()
	require.NoError(t, term.cmds.Call("list 1", term))
	out = stdout.String()
	require.True(t, strings.HasPrefix(out, "     1:\ta = 1\n"), out)
	require.NotContains(t, out, "=>")

	stdout.buf.Reset()
	term.OnStack(nil)
	require.Equal(t, "Stopped before the script started\n", stdout.String())
}

func TestViewMessages(t *testing.T) {
	term, _, stdout, stderr := newTestTerm(t, nil)
	bp := &breakpoint.Breakpoint{Number: 3, Filename: "/s/main.star", Line: 7, Temporary: true}

	term.OnBreakpointEnable(bp)
	term.OnBreakpointDisable(bp)
	term.OnBreakpointIgnore(bp, 1)
	term.OnBreakpointIgnore(bp, 4)
	term.OnBreakpointClear(bp)
	term.OnCall(map[string]string{"y": "2", "x": "1"})
	term.OnReturn("42")
	term.OnException("ValueError", "bad")
	term.OnInfo("hello")
	term.OnRestart()
	require.Equal(t, `Temporary breakpoint 3 at /s/main.star:7 enabled
Temporary breakpoint 3 at /s/main.star:7 disabled
Will ignore next crossing of breakpoint 3
Will ignore next 4 crossings of breakpoint 3
Temporary breakpoint 3 at /s/main.star:7 cleared
--Call--
    x = 1
    y = 2
--Return-- 42
Exception ValueError: bad
hello
Restarting script
`, stdout.String())

	term.OnWarning("careful")
	term.OnError("No breakpoint numbered 7")
	term.OnPostmortem("Traceback (most recent call last):\n  main.star:1:1: in <toplevel>\nError: boom")
	require.Equal(t, `Warning: careful
Command failed: No breakpoint numbered 7
Uncaught exception, the script terminated:
Traceback (most recent call last):
  main.star:1:1: in <toplevel>
Error: boom
`, stderr.String())

	select {
	case <-term.done:
	default:
		t.Fatal("postmortem did not end the session")
	}
}

func TestConfigCommand(t *testing.T) {
	conf := &config.Config{}
	term, fc, stdout, _ := newTestTerm(t, conf)

	require.NoError(t, term.cmds.Call("config max-repr-len 80", term))
	require.NoError(t, term.cmds.Call("config connect-interval 1s", term))
	require.NoError(t, term.cmds.Call("config skip a.star lib/*.star", term))
	require.NoError(t, term.cmds.Call("config source-list-line-color 33", term))
	require.Equal(t, 80, *conf.MaxReprLen)
	require.Equal(t, time.Second, *conf.ConnectInterval)
	require.Equal(t, []string{"a.star", "lib/*.star"}, conf.Skip)
	require.Equal(t, 33, conf.SourceListLineColor)

	require.EqualError(t, term.cmds.Call("config max-repr-len x", term), `argument to "max-repr-len" must be a number`)
	require.EqualError(t, term.cmds.Call("config connect-interval x", term), `argument to "connect-interval" must be a duration`)
	require.EqualError(t, term.cmds.Call("config nope 1", term), `"nope" is not a configuration parameter`)
	require.EqualError(t, term.cmds.Call("config", term), `wrong number of arguments to "config"`)

	require.NoError(t, term.cmds.Call("config alias continue go", term))
	require.Equal(t, []string{"go"}, conf.Aliases["continue"])
	require.NoError(t, term.cmds.Call("go", term))
	require.Equal(t, []string{"continue"}, fc.takeCalls())
	require.NoError(t, term.cmds.Call("config alias go", term))
	require.Equal(t, errNoCmd, term.cmds.Call("go", term))

	require.NoError(t, term.cmds.Call("config -list", term))
	out := stdout.String()
	require.Contains(t, out, "max-repr-len           80\n")
	require.Contains(t, out, "connect-attempts       <not defined>\n")
	require.Contains(t, out, "connect-interval       1s\n")
}

func TestRunWaitsForStops(t *testing.T) {
	path := writeSource(t)
	term, fc, stdout, _ := newTestTerm(t, nil, "break 5", "continue", "locals", "quit")
	fc.stack = stopAt(path)

	exited := make(chan struct{})
	var status int
	var err error
	go func() {
		defer close(exited)
		status, err = term.Run()
	}()

	// Nothing is read before the first stop.
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, fc.takeCalls())

	term.OnStack(fc.stack)
	require.Eventually(t, func() bool {
		return fc.count() == 2
	}, time.Second, 10*time.Millisecond)

	// The prompt is shown again only after the script stops.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{fmt.Sprintf("break %s:5 false", path), "continue"}, fc.takeCalls())
	term.OnStack(fc.stack)

	<-exited
	require.NoError(t, err)
	require.Equal(t, 0, status)
	require.Equal(t, []string{"quit"}, fc.takeCalls())
	require.Contains(t, stdout.String(), "x = 2\n")
}

func TestRunEndsWithSession(t *testing.T) {
	term, _, stdout, _ := newTestTerm(t, nil, "continue")
	term.Disconnected()
	status, err := term.Run()
	require.NoError(t, err)
	require.Equal(t, 0, status)
	require.Equal(t, "Type 'help' for list of commands.\n", stdout.String())

	term, _, _, _ = newTestTerm(t, nil)
	failure := &client.ConnectionError{Kind: client.ConnTimeout, Addr: "127.0.0.1:1"}
	term.OnFail(failure)
	status, err = term.Run()
	require.Equal(t, 1, status)
	require.Equal(t, failure, err)
}

func TestDebugSession(t *testing.T) {
	script := writeSource(t)
	l, err := runner.Listen("127.0.0.1:0")
	require.NoError(t, err)
	s, err := runner.NewServer(&runner.Config{Listener: l, Script: script, Stdout: io.Discard})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runnerDone := make(chan error, 1)
	go func() { runnerDone <- s.Run(ctx) }()

	stdout, stderr := new(syncBuffer), new(syncBuffer)
	term := newTerm(nil, &scriptedInput{lines: []string{
		fmt.Sprintf("break %s:4", script),
		"continue",
		"locals",
		"stack",
		"next",
		"locals",
		"quit",
	}}, stdout, stderr, true)
	c := client.New(client.Config{Addr: l.Addr().String()}, term)
	term.SetClient(c)
	c.Start(ctx)
	served := make(chan error, 1)
	go func() {
		served <- c.Serve(ctx)
		term.Disconnected()
	}()

	status, err := term.Run()
	require.NoError(t, err)
	require.Equal(t, 0, status)

	require.NoError(t, c.Stop())
	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
	select {
	case err := <-runnerDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not exit")
	}

	out := stdout.String()
	require.Contains(t, out, "Stopped before the script started\n")
	require.Contains(t, out, fmt.Sprintf("Breakpoint 1 at %s:4 enabled\n", script))
	require.Contains(t, out, fmt.Sprintf("> %s:4\n", script))
	require.Contains(t, out, "=>   4:\t    y = x + a\n")
	require.Contains(t, out, "x = 2\n")
	require.Contains(t, out, fmt.Sprintf("=>0  %s:4\n  1  %s:6\n", script, script))
	require.Contains(t, out, "y = 3\n")
	require.Empty(t, stderr.String())
}
