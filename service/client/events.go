package client

import (
	"github.com/go-delve/stardbg/pkg/breakpoint"
	"github.com/go-delve/stardbg/service/api"
	"github.com/go-delve/stardbg/service/wire"
)

// View presents the session to the user. Its methods are called from the
// goroutine calling Handle, after the breakpoint mirror has been updated.
type View interface {
	// OnBootstrap is called when the runner accepted the connection. It is
	// followed by one OnBreakpointEnable or OnBreakpointDisable call per
	// known breakpoint.
	OnBootstrap()
	OnBreakpointEnable(bp *breakpoint.Breakpoint)
	OnBreakpointDisable(bp *breakpoint.Breakpoint)
	OnBreakpointIgnore(bp *breakpoint.Breakpoint, count int)
	OnBreakpointClear(bp *breakpoint.Breakpoint)
	OnStack(stack []api.StackEntry)
	OnRestart()
	OnFinished()
	OnCall(args map[string]string)
	OnReturn(retval string)
	OnLine(filename string, line int)
	OnException(name, value string)
	OnPostmortem(traceback string)
	OnInfo(msg string)
	OnWarning(msg string)
	OnError(msg string)
	// OnFail is called once if the client could not connect.
	OnFail(err error)
}

func (c *Client) onBootstrap(msg wire.Message) error {
	var args api.BootstrapArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	bps := make([]*breakpoint.Breakpoint, 0, len(args.Breakpoints))
	c.mu.Lock()
	c.bps.Reset()
	for _, b := range args.Breakpoints {
		bp := &breakpoint.Breakpoint{
			Number:    b.Bpnum,
			Filename:  b.Filename,
			Line:      b.Line,
			Enabled:   b.Enabled,
			Temporary: b.Temporary,
			Funcname:  b.Funcname,
		}
		c.bps.Restore(bp)
		bps = append(bps, copyBreakpoint(bp))
	}
	c.mu.Unlock()

	c.view.OnBootstrap()
	for _, bp := range bps {
		c.announce(bp)
	}
	return nil
}

func (c *Client) announce(bp *breakpoint.Breakpoint) {
	if bp.Enabled {
		c.view.OnBreakpointEnable(bp)
	} else {
		c.view.OnBreakpointDisable(bp)
	}
}

func (c *Client) onBreakpointCreate(msg wire.Message) error {
	var args api.Breakpoint
	if err := msg.Decode(&args); err != nil {
		return err
	}
	bp := &breakpoint.Breakpoint{
		Number:    args.Bpnum,
		Filename:  args.Filename,
		Line:      args.Line,
		Enabled:   true,
		Temporary: args.Temporary,
		Funcname:  args.Funcname,
	}
	c.mu.Lock()
	c.bps.Restore(bp)
	bp = copyBreakpoint(bp)
	c.mu.Unlock()
	c.announce(bp)
	return nil
}

// updateBreakpoint applies fn to the mirrored breakpoint number n and
// returns a copy of the result.
func (c *Client) updateBreakpoint(n int, fn func(bp *breakpoint.Breakpoint)) (*breakpoint.Breakpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bp, err := c.bps.Get(n)
	if err != nil {
		return nil, err
	}
	fn(bp)
	return copyBreakpoint(bp), nil
}

func (c *Client) onBreakpointEnable(msg wire.Message) error {
	var args api.BpnumArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	bp, err := c.updateBreakpoint(args.Bpnum, func(bp *breakpoint.Breakpoint) {
		bp.Enabled = true
		bp.Ignore = 0
	})
	if err != nil {
		return err
	}
	c.view.OnBreakpointEnable(bp)
	return nil
}

func (c *Client) onBreakpointDisable(msg wire.Message) error {
	var args api.BpnumArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	bp, err := c.updateBreakpoint(args.Bpnum, func(bp *breakpoint.Breakpoint) {
		bp.Enabled = false
	})
	if err != nil {
		return err
	}
	c.view.OnBreakpointDisable(bp)
	return nil
}

func (c *Client) onBreakpointIgnore(msg wire.Message) error {
	var args api.IgnoreArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	bp, err := c.updateBreakpoint(args.Bpnum, func(bp *breakpoint.Breakpoint) {
		bp.Ignore = args.Count
	})
	if err != nil {
		return err
	}
	c.view.OnBreakpointIgnore(bp, args.Count)
	return nil
}

func (c *Client) onBreakpointClear(msg wire.Message) error {
	var args api.BpnumArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	c.mu.Lock()
	bp, err := c.bps.Clear(args.Bpnum)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.view.OnBreakpointClear(bp)
	return nil
}

func (c *Client) onStack(msg wire.Message) error {
	var args api.StackArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	c.mu.Lock()
	c.stack = args.Stack
	c.mu.Unlock()
	c.view.OnStack(args.Stack)
	return nil
}

func (c *Client) onRestart(wire.Message) error {
	c.view.OnRestart()
	return nil
}

func (c *Client) onFinished(wire.Message) error {
	c.view.OnFinished()
	return nil
}

func (c *Client) onCall(msg wire.Message) error {
	var args api.CallArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	c.view.OnCall(args.Args)
	return nil
}

func (c *Client) onReturn(msg wire.Message) error {
	var args api.ReturnArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	c.view.OnReturn(args.Retval)
	return nil
}

func (c *Client) onLine(msg wire.Message) error {
	var args api.LineArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	c.view.OnLine(args.Filename, args.Line)
	return nil
}

func (c *Client) onException(msg wire.Message) error {
	var args api.ExceptionArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	c.log.Infof("exception encountered in user's code: %s - %s", args.Name, args.Value)
	c.view.OnException(args.Name, args.Value)
	return nil
}

func (c *Client) onPostmortem(msg wire.Message) error {
	var args api.PostmortemArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	c.view.OnPostmortem(args.Traceback)
	return nil
}

func (c *Client) onInfo(msg wire.Message) error {
	var args api.MessageArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	c.log.Infof("debug runner says: %s", args.Message)
	c.view.OnInfo(args.Message)
	return nil
}

func (c *Client) onWarning(msg wire.Message) error {
	var args api.MessageArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	c.log.Warnf("debug runner says: %s", args.Message)
	c.view.OnWarning(args.Message)
	return nil
}

func (c *Client) onError(msg wire.Message) error {
	var args api.MessageArgs
	if err := msg.Decode(&args); err != nil {
		return err
	}
	c.log.Errorf("debug runner says: %s", args.Message)
	c.view.OnError(args.Message)
	return nil
}
