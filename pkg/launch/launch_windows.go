package launch

import (
	"errors"
	"io"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func (p *Process) startTTY(out io.Writer) error {
	return errors.New("pseudo terminals are not supported on windows")
}
