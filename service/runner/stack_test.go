package runner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/stardbg/pkg/starhost"
	"github.com/go-delve/stardbg/pkg/trace"
)

func chain(names ...string) *trace.Frame {
	var f *trace.Frame
	for i, name := range names {
		f = &trace.Frame{Filename: name, Name: name, Line: i + 1, Col: 3, Back: f}
	}
	return f
}

func TestStackTrim(t *testing.T) {
	for _, tc := range []struct {
		name  string
		frame *trace.Frame
		want  []string
	}{
		{"exec unit", chain(starhost.EngineUnit, starhost.ExecUnit, "main.star", "lib.star"), []string{"main.star", "lib.star"}},
		{"exec unit only", chain(starhost.EngineUnit, starhost.ExecUnit), nil},
		{"unwinding", chain(starhost.EngineUnit, "a", "b", starhost.ExecUnit, "main.star"), []string{"main.star"}},
		{"unknown shape", chain(starhost.EngineUnit, "main.star", "lib.star"), nil},
		{"root only", chain(starhost.EngineUnit), nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			args := stackArgs(tc.frame)
			require.NotNil(t, args.Stack)
			var got []string
			for _, e := range args.Stack {
				got = append(got, e.Frame.Filename)
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestStackFrames(t *testing.T) {
	f := chain(starhost.EngineUnit, starhost.ExecUnit, "main.star", "lib.star")
	f.SetLocal("__return__", "3")
	f.Back.Exception = &trace.Exception{Name: "fail", Value: `"boom"`, Traceback: "Traceback"}

	args := stackArgs(f)
	require.Len(t, args.Stack, 2)

	outer, inner := args.Stack[0], args.Stack[1]
	require.Equal(t, 3, outer.Line)
	require.False(t, outer.Frame.Current)
	require.Equal(t, "fail", outer.Frame.ExcType)
	require.Equal(t, `"boom"`, outer.Frame.ExcValue)
	require.Equal(t, "Traceback", outer.Frame.ExcTraceback)
	require.Equal(t, "3:3", outer.Frame.Lasti)

	require.Equal(t, 4, inner.Line)
	require.True(t, inner.Frame.Current)
	require.Equal(t, map[string]string{"__return__": "3"}, inner.Frame.Locals)
	require.Empty(t, inner.Frame.ExcType)
	require.Empty(t, inner.Frame.Restricted)
}
