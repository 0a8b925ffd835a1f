package terminal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-delve/stardbg/pkg/breakpoint"
	"github.com/go-delve/stardbg/service/api"
)

// The methods below implement client.View. They run on the goroutine
// serving the client's notifications.

func (t *Term) OnBootstrap() {
	t.log.Debugf("connected to the debug runner")
}

func (t *Term) OnBreakpointEnable(bp *breakpoint.Breakpoint) {
	fmt.Fprintf(t.stdout, "%s enabled\n", formatBreakpoint(bp))
}

func (t *Term) OnBreakpointDisable(bp *breakpoint.Breakpoint) {
	fmt.Fprintf(t.stdout, "%s disabled\n", formatBreakpoint(bp))
}

func (t *Term) OnBreakpointIgnore(bp *breakpoint.Breakpoint, count int) {
	if count == 1 {
		fmt.Fprintf(t.stdout, "Will ignore next crossing of breakpoint %d\n", bp.Number)
		return
	}
	fmt.Fprintf(t.stdout, "Will ignore next %d crossings of breakpoint %d\n", count, bp.Number)
}

func (t *Term) OnBreakpointClear(bp *breakpoint.Breakpoint) {
	fmt.Fprintf(t.stdout, "%s cleared\n", formatBreakpoint(bp))
}

func (t *Term) OnStack(stack []api.StackEntry) {
	t.cmds.setFrame(0)
	frames := innermostFirst(stack)
	if len(frames) == 0 {
		fmt.Fprintln(t.stdout, "Stopped before the script started")
	} else {
		printcontext(t, frames[0])
	}
	t.stopped()
}

func (t *Term) OnRestart() {
	fmt.Fprintln(t.stdout, "Restarting script")
}

func (t *Term) OnFinished() {
	fmt.Fprintln(t.stdout, "Script finished")
	t.Disconnected()
}

func (t *Term) OnCall(args map[string]string) {
	fmt.Fprintln(t.stdout, "--Call--")
	printVariables(t.stdout, "    ", args, nil)
}

func (t *Term) OnReturn(retval string) {
	fmt.Fprintf(t.stdout, "--Return-- %s\n", retval)
}

func (t *Term) OnLine(filename string, line int) {
	t.log.Debugf("line %s:%d", filename, line)
}

func (t *Term) OnException(name, value string) {
	fmt.Fprintf(t.stdout, "Exception %s: %s\n", name, value)
}

func (t *Term) OnPostmortem(traceback string) {
	fmt.Fprintln(t.stderr, "Uncaught exception, the script terminated:")
	fmt.Fprint(t.stderr, traceback)
	if !strings.HasSuffix(traceback, "\n") {
		fmt.Fprintln(t.stderr)
	}
	t.Disconnected()
}

func (t *Term) OnInfo(msg string) {
	fmt.Fprintln(t.stdout, msg)
}

func (t *Term) OnWarning(msg string) {
	fmt.Fprintf(t.stderr, "Warning: %s\n", msg)
}

func (t *Term) OnError(msg string) {
	fmt.Fprintf(t.stderr, "Command failed: %s\n", msg)
}

func (t *Term) OnFail(err error) {
	fmt.Fprintf(t.stderr, "%v\n", err)
	t.mu.Lock()
	t.failed = err
	t.mu.Unlock()
	t.Disconnected()
}

func formatBreakpoint(bp *breakpoint.Breakpoint) string {
	thing := "Breakpoint"
	if bp.Temporary {
		thing = "Temporary breakpoint"
	}
	return fmt.Sprintf("%s %d at %s:%d", thing, bp.Number, bp.Filename, bp.Line)
}

// innermostFirst returns the frames of stack starting from the current
// one, the runner sends them outermost first.
func innermostFirst(stack []api.StackEntry) []api.StackEntry {
	cur := len(stack) - 1
	for i := range stack {
		if stack[i].Frame.Current {
			cur = i
		}
	}
	frames := make([]api.StackEntry, 0, cur+1)
	for i := cur; i >= 0; i-- {
		frames = append(frames, stack[i])
	}
	return frames
}

func sortedNames(vars map[string]string) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
