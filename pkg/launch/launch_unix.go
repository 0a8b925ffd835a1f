//go:build !windows
// +build !windows

package launch

import (
	"io"
	"syscall"

	"github.com/creack/pty"
)

// sysProcAttr puts the runner in its own process group, so that an
// interrupt typed in the terminal is only seen by the client.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func (p *Process) startTTY(out io.Writer) error {
	tty, err := pty.Start(p.cmd)
	if err != nil {
		return err
	}
	p.tty = tty
	p.copy = make(chan struct{})
	go func() {
		defer close(p.copy)
		if out == nil {
			out = io.Discard
		}
		// Reading the master fails with EIO once the runner exits.
		io.Copy(out, tty)
	}()
	return nil
}
