package api

import "fmt"

// CommandKind identifies a message sent from the client to the runner.
type CommandKind uint8

const (
	CmdUnknown CommandKind = iota
	CmdBreak
	CmdEnable
	CmdDisable
	CmdIgnore
	CmdClear
	CmdStep
	CmdNext
	CmdReturn
	CmdContinue
	CmdRestart
	CmdQuit
	// CmdClose is synthesized by the runner when the client disconnects,
	// it is never sent over the wire.
	CmdClose
)

var commandNames = [...]string{
	CmdUnknown:  "",
	CmdBreak:    "break",
	CmdEnable:   "enable",
	CmdDisable:  "disable",
	CmdIgnore:   "ignore",
	CmdClear:    "clear",
	CmdStep:     "step",
	CmdNext:     "next",
	CmdReturn:   "return",
	CmdContinue: "continue",
	CmdRestart:  "restart",
	CmdQuit:     "quit",
	CmdClose:    "close",
}

func (k CommandKind) String() string {
	if int(k) < len(commandNames) && k != CmdUnknown {
		return commandNames[k]
	}
	return fmt.Sprintf("CommandKind(%d)", k)
}

// ParseCommand returns the CommandKind with the given wire name.
func ParseCommand(name string) (CommandKind, bool) {
	for k, n := range commandNames {
		if n == name && CommandKind(k) != CmdUnknown {
			return CommandKind(k), true
		}
	}
	return CmdUnknown, false
}

// EventKind identifies a message sent from the runner to the client.
type EventKind uint8

const (
	EvUnknown EventKind = iota
	EvBootstrap
	EvBreakpointCreate
	EvBreakpointEnable
	EvBreakpointDisable
	EvBreakpointIgnore
	EvBreakpointClear
	EvStack
	EvRestart
	EvFinished
	EvCall
	EvReturn
	EvLine
	EvException
	EvPostmortem
	EvInfo
	EvWarning
	EvError
)

var eventNames = [...]string{
	EvUnknown:           "",
	EvBootstrap:         "bootstrap",
	EvBreakpointCreate:  "breakpoint_create",
	EvBreakpointEnable:  "breakpoint_enable",
	EvBreakpointDisable: "breakpoint_disable",
	EvBreakpointIgnore:  "breakpoint_ignore",
	EvBreakpointClear:   "breakpoint_clear",
	EvStack:             "stack",
	EvRestart:           "restart",
	EvFinished:          "finished",
	EvCall:              "call",
	EvReturn:            "return",
	EvLine:              "line",
	EvException:         "exception",
	EvPostmortem:        "postmortem",
	EvInfo:              "info",
	EvWarning:           "warning",
	EvError:             "error",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) && k != EvUnknown {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", k)
}

// ParseEvent returns the EventKind with the given wire name.
func ParseEvent(name string) (EventKind, bool) {
	for k, n := range eventNames {
		if n == name && EventKind(k) != EvUnknown {
			return EventKind(k), true
		}
	}
	return EvUnknown, false
}
