// Package launch starts runner processes for the client.
package launch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/go-delve/stardbg/pkg/logflags"
)

// Config describes the runner to start.
type Config struct {
	// Executable is the stardbg binary. Defaults to the running executable.
	Executable string
	// Addr is the address the runner listens on.
	Addr string
	// Script and Args are the script to debug and its arguments.
	Script string
	Args   []string
	// Flags are extra flags passed to the run command, before the script.
	Flags []string
	// Dir is the working directory of the runner.
	Dir string
	// Env is appended to the environment of the current process.
	Env []string
	// Stdout and Stderr receive the output of the runner. When TTY is set
	// the runner is attached to a new pseudo terminal and everything it
	// writes is copied to Stdout.
	Stdout io.Writer
	Stderr io.Writer
	TTY    bool
}

// Process is a started runner.
type Process struct {
	cmd  *exec.Cmd
	tty  *os.File
	copy chan struct{}

	waitOnce sync.Once
	waitErr  error
}

// Command returns the command line that starts the runner described by
// cfg.
func Command(cfg Config) ([]string, error) {
	exe := cfg.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, err
		}
	}
	if cfg.Script == "" {
		return nil, errors.New("no script to run")
	}
	cmd := []string{exe, "run", "--listen", cfg.Addr}
	cmd = append(cmd, cfg.Flags...)
	cmd = append(cmd, cfg.Script)
	if len(cfg.Args) > 0 {
		cmd = append(cmd, "--")
		cmd = append(cmd, cfg.Args...)
	}
	return cmd, nil
}

// Start starts a runner.
func Start(cfg Config) (*Process, error) {
	argv, err := Command(cfg)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	p := &Process{cmd: cmd}
	if cfg.TTY {
		err = p.startTTY(cfg.Stdout)
	} else {
		cmd.Stdout = cfg.Stdout
		cmd.Stderr = cfg.Stderr
		cmd.SysProcAttr = sysProcAttr()
		err = cmd.Start()
	}
	if err != nil {
		return nil, fmt.Errorf("could not start runner: %w", err)
	}
	logflags.ClientLogger().Debugf("started runner pid %d: %q", cmd.Process.Pid, argv)
	return p, nil
}

// Pid returns the process id of the runner.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Kill kills the runner. Killing a process that already exited is not an
// error.
func (p *Process) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Wait waits for the runner to exit. It can be called more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		if p.copy != nil {
			<-p.copy
			p.tty.Close()
		}
	})
	return p.waitErr
}
