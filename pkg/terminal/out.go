package terminal

import (
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// pagingWriter writes to w. After PageMaybe it holds the output back and,
// once more than a screenful was written, sends it to a pager until Reset.
// It is safe for concurrent use.
type pagingWriter struct {
	mu   sync.Mutex
	mode pagingWriterMode
	w    io.Writer

	buf    []byte
	pager  *exec.Cmd
	stdin  io.WriteCloser
	lastnl bool

	// size of the terminal, and of the output held back so far
	lines, columns int
	nlines, col    int
}

type pagingWriterMode uint8

const (
	pagingWriterNormal pagingWriterMode = iota
	pagingWriterMaybe
	pagingWriterPaging
)

func (w *pagingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.mode {
	case pagingWriterMaybe:
		w.buf = append(w.buf, p...)
		if !w.count(p) {
			if len(p) > 0 {
				w.lastnl = p[len(p)-1] == '\n'
			}
			return w.w.Write(p)
		}
		if err := w.startPager(); err != nil {
			w.mode = pagingWriterNormal
			return w.w.Write(p)
		}
		return len(p), nil
	case pagingWriterPaging:
		return w.stdin.Write(p)
	default:
		return w.w.Write(p)
	}
}

// count adds p to the size of the held back output and reports whether it
// no longer fits the screen. Long lines wrap.
func (w *pagingWriter) count(p []byte) bool {
	for _, b := range p {
		w.col++
		if b == '\n' || w.col > w.columns {
			w.nlines++
			w.col = 0
		}
	}
	return w.nlines > w.lines
}

func (w *pagingWriter) startPager() error {
	cmd := exec.Command(w.pagerName())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if !w.lastnl {
		io.WriteString(w.w, "\n")
	}
	io.WriteString(w.w, "Sending output to pager...\n")
	stdin.Write(w.buf)
	w.buf = nil
	w.pager, w.stdin = cmd, stdin
	w.mode = pagingWriterPaging
	return nil
}

func (w *pagingWriter) pagerName() string {
	for _, env := range []string{"STARDBG_PAGER", "PAGER"} {
		if pager := os.Getenv(env); pager != "" {
			return pager
		}
	}
	return "more"
}

// Reset returns the pagingWriter to its normal mode, waiting for the pager
// if one was started.
func (w *pagingWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mode = pagingWriterNormal
	w.buf = nil
	if w.pager != nil {
		w.stdin.Close()
		w.pager.Wait()
		w.pager, w.stdin = nil, nil
	}
}

// PageMaybe starts holding back the output of the current command. Nothing
// is paged unless stdout is a terminal or STARDBG_PAGER is set.
func (w *pagingWriter) PageMaybe() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != pagingWriterNormal {
		return
	}
	if os.Getenv("STARDBG_PAGER") == "" {
		if stdout, _ := w.w.(*os.File); stdout == nil || !isatty.IsTerminal(stdout.Fd()) {
			return
		}
		if strings.ToLower(os.Getenv("TERM")) == "dumb" {
			return
		}
	}
	w.mode = pagingWriterMaybe
	w.lastnl = true
	w.nlines, w.col = 0, 0
	w.getWindowSize()
}
