package runner

import (
	"fmt"

	"github.com/go-delve/stardbg/pkg/starhost"
	"github.com/go-delve/stardbg/pkg/trace"
	"github.com/go-delve/stardbg/service/api"
)

// stackArgs returns the stack event for a stop at f. The raw stack starts
// with the engine root and the exec unit, which are not shown to the user.
// While an error unwinds through the exec unit it sits two frames deeper.
// If the exec unit can not be found the stack is sent empty.
func stackArgs(f *trace.Frame) api.StackArgs {
	raw := f.Stack()
	start := 0
	switch {
	case len(raw) > 1 && raw[1].Filename == starhost.ExecUnit:
		start = 2
	case len(raw) > 3 && raw[3].Filename == starhost.ExecUnit:
		start = 4
	}
	args := api.StackArgs{Stack: []api.StackEntry{}}
	if start == 0 {
		return args
	}
	for _, fr := range raw[start:] {
		args.Stack = append(args.Stack, api.StackEntry{Line: fr.Line, Frame: convertFrame(fr, fr == f)})
	}
	return args
}

func convertFrame(fr *trace.Frame, current bool) api.Frame {
	r := api.Frame{
		Filename: fr.Filename,
		Locals:   fr.Locals(),
		Globals:  fr.Globals(),
		Builtins: fr.Builtins(),
		Lasti:    fmt.Sprintf("%d:%d", fr.Line, fr.Col),
		Current:  current,
	}
	if exc := fr.Exception; exc != nil {
		r.ExcType = exc.Name
		r.ExcValue = exc.Value
		r.ExcTraceback = exc.Traceback
	}
	return r
}
