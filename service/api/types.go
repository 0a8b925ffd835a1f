package api

import (
	"encoding/json"
	"fmt"
)

// BreakArgs are the arguments of the break command.
type BreakArgs struct {
	Filename  string `json:"filename"`
	Line      int    `json:"line"`
	Temporary bool   `json:"temporary"`
}

// BpnumArgs are the arguments of the enable, disable and clear commands
// and of the breakpoint_enable, breakpoint_disable and breakpoint_clear
// events.
type BpnumArgs struct {
	Bpnum int `json:"bpnum"`
}

// IgnoreArgs are the arguments of the ignore command and of the
// breakpoint_ignore event.
type IgnoreArgs struct {
	Bpnum int `json:"bpnum"`
	Count int `json:"count"`
}

// Breakpoint is a breakpoint as announced by the breakpoint_create event.
type Breakpoint struct {
	Bpnum     int     `json:"bpnum"`
	Filename  string  `json:"filename"`
	Line      int     `json:"line"`
	Temporary bool    `json:"temporary"`
	Funcname  *string `json:"funcname"`
}

// BootstrapBreakpoint is a breakpoint as listed by the bootstrap event,
// which also carries its enabled state.
type BootstrapBreakpoint struct {
	Bpnum     int     `json:"bpnum"`
	Filename  string  `json:"filename"`
	Line      int     `json:"line"`
	Temporary bool    `json:"temporary"`
	Enabled   bool    `json:"enabled"`
	Funcname  *string `json:"funcname"`
}

// BootstrapArgs lists every breakpoint known to the runner, it is sent
// each time a client connects.
type BootstrapArgs struct {
	Breakpoints []BootstrapBreakpoint `json:"breakpoints"`
}

// Frame describes one frame of the debuggee's call stack at a stop.
type Frame struct {
	Filename     string            `json:"filename"`
	Locals       map[string]string `json:"locals"`
	Globals      map[string]string `json:"globals"`
	Builtins     map[string]string `json:"builtins"`
	Restricted   string            `json:"restricted"`
	Lasti        string            `json:"lasti"`
	ExcType      string            `json:"exc_type"`
	ExcValue     string            `json:"exc_value"`
	ExcTraceback string            `json:"exc_traceback"`
	Current      bool              `json:"current"`
}

// StackEntry is a frame paired with the line it is stopped at. On the wire
// it is the two element array [line, frame].
type StackEntry struct {
	Line  int
	Frame Frame
}

func (e StackEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Line, e.Frame})
}

func (e *StackEntry) UnmarshalJSON(buf []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(buf, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("stack entry has %d elements, expected 2", len(parts))
	}
	if err := json.Unmarshal(parts[0], &e.Line); err != nil {
		return err
	}
	return json.Unmarshal(parts[1], &e.Frame)
}

// StackArgs are the arguments of the stack event, outermost frame first.
type StackArgs struct {
	Stack []StackEntry `json:"stack"`
}

// CallArgs are the arguments of the call event: the parameters of the
// called function and the repr of their values.
type CallArgs struct {
	Args map[string]string `json:"args"`
}

// ReturnArgs are the arguments of the return event.
type ReturnArgs struct {
	Retval string `json:"retval"`
}

// LineArgs are the arguments of the line event.
type LineArgs struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
}

// ExceptionArgs are the arguments of the exception event.
type ExceptionArgs struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PostmortemArgs are the arguments of the postmortem event, sent when the
// debuggee dies of an uncaught error.
type PostmortemArgs struct {
	Traceback string `json:"traceback"`
}

// MessageArgs are the arguments of the info, warning and error events.
type MessageArgs struct {
	Message string `json:"message"`
}
