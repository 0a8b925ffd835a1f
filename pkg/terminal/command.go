// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/go-delve/stardbg/pkg/breakpoint"
	"github.com/go-delve/stardbg/pkg/terminal/colorize"
	"github.com/go-delve/stardbg/service/api"
)

// sourceListLineCount is the number of lines shown before and after the
// current line.
const sourceListLineCount = 5

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the stardbg terminal.
type Commands struct {
	cmds  []command
	names *trie.Trie

	mu    sync.Mutex
	frame int // Current frame as set by the frame/up/down commands.
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: breakpointCmd, helpMsg: `Sets a breakpoint.

	break [<file>:]<line>

Without a file the breakpoint is set in the file of the selected frame.

See also: "help tbreak" and "help clear"`},
		{aliases: []string{"tbreak", "tb"}, group: breakCmds, cmdFn: tbreakCmd, helpMsg: `Sets a temporary breakpoint.

	tbreak [<file>:]<line>

A temporary breakpoint is cleared the first time it stops the script.`},
		{aliases: []string{"enable"}, group: breakCmds, cmdFn: enableCmd, helpMsg: `Enables breakpoints.

	enable <breakpoint number>...`},
		{aliases: []string{"disable"}, group: breakCmds, cmdFn: disableCmd, helpMsg: `Disables breakpoints.

	disable <breakpoint number>...

A disabled breakpoint does not stop the script but is kept until cleared.`},
		{aliases: []string{"ignore"}, group: breakCmds, cmdFn: ignoreCmd, helpMsg: `Ignores the next crossings of a breakpoint.

	ignore <breakpoint number> <count>

The breakpoint stops the script again after count crossings. A count of 0 makes it stop at the next crossing.`},
		{aliases: []string{"clear"}, group: breakCmds, cmdFn: clearCmd, helpMsg: `Deletes breakpoints.

	clear <breakpoint number>...
	clear [<file>:]<line>`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpoints, helpMsg: `Prints out the active breakpoints.

	breakpoints [<file>]`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: cont, helpMsg: "Run until the next breakpoint or the end of the script."},
		{aliases: []string{"step", "s"}, group: runCmds, cmdFn: step, helpMsg: "Single step through the script, entering called functions."},
		{aliases: []string{"next", "n"}, group: runCmds, cmdFn: next, helpMsg: "Step over to the next line of the current function."},
		{aliases: []string{"return", "stepout", "so"}, group: runCmds, cmdFn: stepout, helpMsg: "Run until the current function returns."},
		{aliases: []string{"restart", "r"}, group: runCmds, cmdFn: restart, helpMsg: `Restart the script.

Breakpoints are kept.`},
		{aliases: []string{"quit", "exit", "q"}, cmdFn: exitCommand, helpMsg: `Ends the script and exits the debugger.

	quit`},
		{aliases: []string{"stack", "bt"}, group: stackCmds, cmdFn: stackCommand, helpMsg: `Print the call stack.

	stack

The selected frame is marked with an arrow.`},
		{aliases: []string{"frame"}, group: stackCmds, cmdFn: c.frameCommand, helpMsg: `Selects the frame used by locals, globals and list.

	frame <n>

Frame 0 is the one the script stopped in.`},
		{aliases: []string{"up"}, group: stackCmds, cmdFn: c.upCommand, helpMsg: `Move the selected frame up.

	up [<m>]`},
		{aliases: []string{"down"}, group: stackCmds, cmdFn: c.downCommand, helpMsg: `Move the selected frame down.

	down [<m>]`},
		{aliases: []string{"locals"}, group: dataCmds, cmdFn: c.locals, helpMsg: `Print local variables.

	locals [<regex>]

If regex is specified only variables whose name matches it are printed.`},
		{aliases: []string{"globals"}, group: dataCmds, cmdFn: c.globals, helpMsg: `Print global variables.

	globals [<regex>]

If regex is specified only variables whose name matches it are printed.`},
		{aliases: []string{"list", "ls", "l"}, cmdFn: c.listCommand, helpMsg: `Show source code.

	list [[<file>:]<line>]

Show source around the current point of the selected frame, or around the given line.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.buildNames()
	return c
}

func (c *Commands) buildNames() {
	c.names = trie.New()
	for i := range c.cmds {
		for _, alias := range c.cmds[i].aliases {
			c.names.Add(alias, i)
		}
	}
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will do nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	if node, ok := c.names.Find(cmdstr); ok {
		return c.cmds[node.Meta().(int)].cmdFn
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	defer t.stdout.Reset()
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.buildNames()
}

// complete returns the command names starting with line.
func (c *Commands) complete(line string) []string {
	if strings.Contains(line, " ") {
		return nil
	}
	r := c.names.PrefixSearch(strings.ToLower(line))
	sort.Strings(r)
	return r
}

func (c *Commands) setFrame(frame int) {
	c.mu.Lock()
	c.frame = frame
	c.mu.Unlock()
}

func (c *Commands) selectedFrame() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			if cmd.match(args) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args like a shell would, honoring quotes.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal arguments '%s'", args)
	}
	return v[0], nil
}

// currentFrame returns the selected frame of the last stop.
func currentFrame(t *Term) (api.StackEntry, bool) {
	frames := innermostFirst(t.client.Stack())
	n := t.cmds.selectedFrame()
	if n < 0 || n >= len(frames) {
		return api.StackEntry{}, false
	}
	return frames[n], true
}

// parseLocation parses [<file>:]<line>. Without a file the location is in
// the file of the selected frame.
func parseLocation(t *Term, loc string) (string, int, error) {
	filename, linestr := "", loc
	if i := strings.LastIndex(loc, ":"); i >= 0 {
		filename, linestr = loc[:i], loc[i+1:]
	}
	line, err := strconv.Atoi(linestr)
	if err != nil || line <= 0 {
		return "", 0, fmt.Errorf("invalid line number %q", linestr)
	}
	if filename == "" {
		cur, ok := currentFrame(t)
		if !ok || isPseudoFile(cur.Frame.Filename) {
			return "", 0, errors.New("no current file, specify <file>:<line>")
		}
		filename = cur.Frame.Filename
	}
	return breakpoint.Canonical(filename), line, nil
}

func isPseudoFile(filename string) bool {
	return strings.HasPrefix(filename, "<")
}

func setBreakpoint(t *Term, args string, temporary bool) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(fields) != 1 {
		return errors.New("wrong number of arguments, expected [<file>:]<line>")
	}
	filename, line, err := parseLocation(t, fields[0])
	if err != nil {
		return err
	}
	t.client.CreateBreakpoint(filename, line, temporary)
	return nil
}

func breakpointCmd(t *Term, args string) error {
	return setBreakpoint(t, args, false)
}

func tbreakCmd(t *Term, args string) error {
	return setBreakpoint(t, args, true)
}

// breakpointsByNumber resolves every argument as a breakpoint number.
func breakpointsByNumber(t *Term, args string) ([]*breakpoint.Breakpoint, error) {
	fields, err := splitArgs(args)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errors.New("not enough arguments")
	}
	bps := make([]*breakpoint.Breakpoint, 0, len(fields))
	for _, arg := range fields {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid breakpoint number %q", arg)
		}
		bp, err := t.client.Breakpoint(n)
		if err != nil {
			return nil, err
		}
		bps = append(bps, bp)
	}
	return bps, nil
}

func enableCmd(t *Term, args string) error {
	bps, err := breakpointsByNumber(t, args)
	if err != nil {
		return err
	}
	for _, bp := range bps {
		t.client.EnableBreakpoint(bp)
	}
	return nil
}

func disableCmd(t *Term, args string) error {
	bps, err := breakpointsByNumber(t, args)
	if err != nil {
		return err
	}
	for _, bp := range bps {
		t.client.DisableBreakpoint(bp)
	}
	return nil
}

func ignoreCmd(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(fields) != 2 {
		return errors.New("wrong number of arguments, expected <breakpoint number> <count>")
	}
	bps, err := breakpointsByNumber(t, fields[0])
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(fields[1])
	if err != nil || count < 0 {
		return fmt.Errorf("invalid count %q", fields[1])
	}
	t.client.IgnoreBreakpoint(bps[0], count)
	return nil
}

func clearCmd(t *Term, args string) error {
	if strings.Contains(args, ":") {
		filename, line, err := parseLocation(t, strings.TrimSpace(args))
		if err != nil {
			return err
		}
		bp, err := t.client.BreakpointAt(filename, line)
		if err != nil {
			return err
		}
		t.client.ClearBreakpoint(bp)
		return nil
	}
	bps, err := breakpointsByNumber(t, args)
	if err != nil {
		return err
	}
	for _, bp := range bps {
		t.client.ClearBreakpoint(bp)
	}
	return nil
}

func breakpoints(t *Term, args string) error {
	filename := strings.TrimSpace(args)
	if filename != "" {
		filename = breakpoint.Canonical(filename)
	}
	bps := t.client.Breakpoints(filename)
	if len(bps) == 0 {
		fmt.Fprintln(t.stdout, "No breakpoints")
		return nil
	}
	for _, bp := range bps {
		var attrs []string
		if !bp.Enabled {
			attrs = append(attrs, "disabled")
		}
		if bp.Ignore > 0 {
			attrs = append(attrs, fmt.Sprintf("ignore next %d", bp.Ignore))
		}
		if len(attrs) > 0 {
			fmt.Fprintf(t.stdout, "%s (%s)\n", formatBreakpoint(bp), strings.Join(attrs, ", "))
		} else {
			fmt.Fprintln(t.stdout, formatBreakpoint(bp))
		}
	}
	return nil
}

func cont(t *Term, args string) error {
	t.resumed()
	t.client.Run()
	return nil
}

func step(t *Term, args string) error {
	t.resumed()
	t.client.Step()
	return nil
}

func next(t *Term, args string) error {
	t.resumed()
	t.client.Next()
	return nil
}

func stepout(t *Term, args string) error {
	t.resumed()
	t.client.Return()
	return nil
}

func restart(t *Term, args string) error {
	t.resumed()
	t.client.Restart()
	return nil
}

// ExitRequestError is returned when the user
// exits stardbg.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	t.client.Quit()
	return ExitRequestError{}
}

func stackCommand(t *Term, args string) error {
	frames := innermostFirst(t.client.Stack())
	if len(frames) == 0 {
		return errors.New("no stack, the script is not stopped")
	}
	t.stdout.PageMaybe()
	printStack(t.stdout, frames, t.cmds.selectedFrame())
	return nil
}

func digits(n int) int {
	d := 1
	for n >= 10 {
		n /= 10
		d++
	}
	return d
}

func printStack(out io.Writer, frames []api.StackEntry, selected int) {
	d := digits(len(frames) - 1)
	fmtstr := "%s%" + strconv.Itoa(d) + "d  %s:%d\n"
	for i, fr := range frames {
		mark := "  "
		if i == selected {
			mark = "=>"
		}
		fmt.Fprintf(out, fmtstr, mark, i, fr.Frame.Filename, fr.Line)
		if fr.Frame.ExcType != "" {
			fmt.Fprintf(out, "%s  %s: %s\n", strings.Repeat(" ", d+2), fr.Frame.ExcType, fr.Frame.ExcValue)
		}
	}
}

func (c *Commands) frameCommand(t *Term, args string) error {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return errors.New("frame command needs a frame number")
	}
	return c.selectFrame(t, n)
}

func (c *Commands) upCommand(t *Term, args string) error {
	m, err := parseOptionalCount(args)
	if err != nil {
		return err
	}
	return c.selectFrame(t, c.selectedFrame()+m)
}

func (c *Commands) downCommand(t *Term, args string) error {
	m, err := parseOptionalCount(args)
	if err != nil {
		return err
	}
	return c.selectFrame(t, c.selectedFrame()-m)
}

func parseOptionalCount(arg string) (int, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q", arg)
	}
	return n, nil
}

func (c *Commands) selectFrame(t *Term, n int) error {
	frames := innermostFirst(t.client.Stack())
	if n < 0 || n >= len(frames) {
		return fmt.Errorf("invalid frame %d", n)
	}
	c.setFrame(n)
	printcontext(t, frames[n])
	return nil
}

func (c *Commands) locals(t *Term, args string) error {
	return printFrameVariables(t, args, func(fr api.Frame) map[string]string { return fr.Locals })
}

func (c *Commands) globals(t *Term, args string) error {
	return printFrameVariables(t, args, func(fr api.Frame) map[string]string { return fr.Globals })
}

func printFrameVariables(t *Term, filter string, vars func(api.Frame) map[string]string) error {
	cur, ok := currentFrame(t)
	if !ok {
		return errors.New("no frame selected, the script is not stopped")
	}
	var re *regexp.Regexp
	if filter != "" {
		var err error
		re, err = regexp.Compile(filter)
		if err != nil {
			return err
		}
	}
	v := vars(cur.Frame)
	t.stdout.PageMaybe()
	if printVariables(t.stdout, "", v, re) == 0 {
		fmt.Fprintln(t.stdout, "(no variables)")
	}
	return nil
}

func printVariables(out io.Writer, ind string, vars map[string]string, re *regexp.Regexp) int {
	n := 0
	for _, name := range sortedNames(vars) {
		if re != nil && !re.MatchString(name) {
			continue
		}
		fmt.Fprintf(out, "%s%s = %s\n", ind, name, vars[name])
		n++
	}
	return n
}

func (c *Commands) listCommand(t *Term, args string) error {
	args = strings.TrimSpace(args)
	if args == "" {
		cur, ok := currentFrame(t)
		if !ok {
			return errors.New("no current location, specify [<file>:]<line>")
		}
		return printfile(t, cur.Frame.Filename, cur.Line, true)
	}
	filename, line, err := parseLocation(t, args)
	if err != nil {
		return err
	}
	cur, ok := currentFrame(t)
	showArrow := ok && breakpoint.Canonical(cur.Frame.Filename) == filename && cur.Line == line
	return printfile(t, filename, line, showArrow)
}

func printcontext(t *Term, fr api.StackEntry) {
	t.Println("> ", fmt.Sprintf("%s:%d", fr.Frame.Filename, fr.Line))
	if fr.Frame.ExcType != "" {
		fmt.Fprintf(t.stdout, "%s: %s\n", fr.Frame.ExcType, fr.Frame.ExcValue)
	}
	if isPseudoFile(fr.Frame.Filename) {
		return
	}
	if err := printfile(t, fr.Frame.Filename, fr.Line, true); err != nil {
		fmt.Fprintln(t.stderr, err)
	}
}

func printfile(t *Term, filename string, line int, showArrow bool) error {
	if filename == "" || isPseudoFile(filename) {
		return fmt.Errorf("no source for %s", filename)
	}

	arrowLine := 0
	if showArrow {
		arrowLine = line
	}

	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	start := line - sourceListLineCount
	if start < 1 {
		start = 1
	}
	return colorize.Print(t.stdout, file.Name(), file, start, line+sourceListLineCount+1, arrowLine, t.colorEscapes)
}
