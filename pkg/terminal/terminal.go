package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-delve/stardbg/pkg/breakpoint"
	"github.com/go-delve/stardbg/pkg/config"
	"github.com/go-delve/stardbg/pkg/logflags"
	"github.com/go-delve/stardbg/pkg/terminal/colorize"
	"github.com/go-delve/stardbg/service/api"
)

const (
	historyFile                 string = ".stardbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack     = 30
	ansiRed       = 31
	ansiGreen     = 32
	ansiYellow    = 33
	ansiBlue      = 34
	ansiMagenta   = 35
	ansiCyan      = 36
	ansiWhite     = 37
	ansiBrBlack   = 90
	ansiBrRed     = 91
	ansiBrGreen   = 92
	ansiBrYellow  = 93
	ansiBrBlue    = 94
	ansiBrMagenta = 95
	ansiBrCyan    = 96
	ansiBrWhite   = 97
)

// Client is the part of the debug session controller used by the
// terminal. It is implemented by *client.Client.
type Client interface {
	CreateBreakpoint(filename string, line int, temporary bool)
	EnableBreakpoint(bp *breakpoint.Breakpoint)
	DisableBreakpoint(bp *breakpoint.Breakpoint)
	IgnoreBreakpoint(bp *breakpoint.Breakpoint, count int)
	ClearBreakpoint(bp *breakpoint.Breakpoint)
	Run()
	Step()
	Next()
	Return()
	Restart()
	Quit()
	Breakpoint(n int) (*breakpoint.Breakpoint, error)
	BreakpointAt(filename string, line int) (*breakpoint.Breakpoint, error)
	Breakpoints(filename string) []*breakpoint.Breakpoint
	Stack() []api.StackEntry
}

type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// Term represents the terminal running stardbg. It reads commands from
// the user and is the View of the debug session.
type Term struct {
	client Client
	conf   *config.Config
	prompt string
	line   *liner.State
	input  prompter
	cmds   *Commands
	dumb   bool
	stdout *pagingWriter
	stderr io.Writer
	log    logflags.Logger

	colorEscapes map[colorize.Style]string

	// stops receives a value each time the runner reports a stop.
	stops chan struct{}
	// done is closed when the debug session is over.
	done      chan struct{}
	doneOnce  sync.Once
	interrupt chan struct{}

	mu          sync.Mutex
	running     bool
	interrupted bool
	failed      error
}

// New returns a new Term reading from the user's terminal. Call SetClient
// before Run.
func New(conf *config.Config) *Term {
	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	line := liner.NewLiner()
	t := newTerm(conf, line, w, os.Stderr, dumb)
	t.line = line
	return t
}

func newTerm(conf *config.Config, input prompter, stdout, stderr io.Writer, dumb bool) *Term {
	if conf == nil {
		conf = &config.Config{}
	}

	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if (conf.SourceListLineColor > ansiWhite &&
		conf.SourceListLineColor < ansiBrBlack) ||
		conf.SourceListLineColor < ansiBlack ||
		conf.SourceListLineColor > ansiBrWhite {
		conf.SourceListLineColor = ansiBlue
	}

	t := &Term{
		conf:      conf,
		prompt:    "(stardbg) ",
		input:     input,
		cmds:      cmds,
		dumb:      dumb,
		stdout:    &pagingWriter{w: stdout},
		stderr:    stderr,
		log:       logflags.ClientLogger().WithField("component", "terminal"),
		stops:     make(chan struct{}, 1),
		done:      make(chan struct{}),
		interrupt: make(chan struct{}),
		running:   true,
	}
	if !dumb {
		t.colorEscapes = map[colorize.Style]string{
			colorize.NormalStyle:  terminalResetEscapeCode,
			colorize.KeywordStyle: fmt.Sprintf(terminalHighlightEscapeCode, ansiYellow),
			colorize.StringStyle:  fmt.Sprintf(terminalHighlightEscapeCode, ansiGreen),
			colorize.NumberStyle:  fmt.Sprintf(terminalHighlightEscapeCode, ansiBrCyan),
			colorize.CommentStyle: fmt.Sprintf(terminalHighlightEscapeCode, ansiBrBlack),
			colorize.LineNoStyle:  fmt.Sprintf(terminalHighlightEscapeCode, conf.SourceListLineColor),
			colorize.ArrowStyle:   terminalResetEscapeCode,
			colorize.TabStyle:     terminalResetEscapeCode,
		}
	}
	return t
}

// getColorableWriter returns stdout wrapped so that escape codes work on
// consoles that do not understand them natively.
func getColorableWriter() io.Writer {
	return colorable.NewColorableStdout()
}

// SetClient sets the session the terminal controls.
func (t *Term) SetClient(client Client) {
	t.client = client
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// Disconnected tells the terminal that the debug session is over.
func (t *Term) Disconnected() {
	t.doneOnce.Do(func() { close(t.done) })
}

// Interrupted returns true if the user interrupted the session while the
// script was running.
func (t *Term) Interrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interrupted
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.mu.Lock()
		running := t.running
		if running && !t.interrupted {
			t.interrupted = true
			close(t.interrupt)
		}
		t.mu.Unlock()
		if running {
			fmt.Fprintln(t.stderr, "received SIGINT, ending the debug session")
		}
	}
}

// Run begins running stardbg in the terminal. It returns when the user
// exits or the debug session is over.
func (t *Term) Run() (int, error) {
	defer t.Close()

	if t.line != nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT)
		defer signal.Stop(ch)
		go t.sigintGuard(ch)

		t.line.SetCompleter(t.cmds.complete)
		t.readHistory()
	}

	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	for {
		if !t.waitStop() {
			return t.handleExit()
		}

		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, errors.New("prompt for input failed")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(t.stderr, "Command failed: %s\n", err)
		}
	}
}

// resumed marks the script as running, the prompt is shown again at the
// next stop.
func (t *Term) resumed() {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
}

// waitStop waits for the running script to stop. It returns false if the
// session ended instead.
func (t *Term) waitStop() bool {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()

	if !running {
		select {
		case <-t.done:
			return false
		default:
			return true
		}
	}

	select {
	case <-t.stops:
	case <-t.done:
		return false
	case <-t.interrupt:
		return false
	}
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	return true
}

func (t *Term) stopped() {
	select {
	case t.stops <- struct{}{}:
	default:
	}
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, t.conf.SourceListLineColor)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.input.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.input.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) readHistory() {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintf(t.stderr, "Unable to load history file: %v.\n", err)
		return
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Fprintf(t.stderr, "Unable to open history file: %v. History will not be saved for this session.\n", err)
			return
		}
	}

	t.line.ReadHistory(f)
	f.Close()
}

func (t *Term) handleExit() (int, error) {
	if t.line != nil {
		fullHistoryFile, err := config.GetConfigFilePath(historyFile)
		if err != nil {
			fmt.Fprintln(t.stderr, "Error saving history file:", err)
		} else if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			if _, err := t.line.WriteHistory(f); err != nil {
				fmt.Fprintln(t.stderr, "readline history error:", err)
			}
			f.Close()
		}
	}

	t.mu.Lock()
	failed, interrupted := t.failed, t.interrupted
	t.mu.Unlock()
	if failed != nil {
		return 1, failed
	}
	if interrupted {
		return 1, nil
	}
	return 0, nil
}
