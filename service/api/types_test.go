package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStackEntryWireShape(t *testing.T) {
	args := StackArgs{Stack: []StackEntry{{Line: 3, Frame: Frame{Filename: "/tmp/a.star", Current: true}}}}
	buf, err := json.Marshal(args)
	require.NoError(t, err)
	require.Contains(t, string(buf), `{"stack":[[3,{"filename":"/tmp/a.star"`)

	var back StackArgs
	require.NoError(t, json.Unmarshal(buf, &back))
	require.Equal(t, 3, back.Stack[0].Line)
	require.True(t, back.Stack[0].Frame.Current)

	var bad StackEntry
	require.Error(t, json.Unmarshal([]byte(`[1]`), &bad))
}

func TestKindNames(t *testing.T) {
	for k := CmdBreak; k <= CmdClose; k++ {
		got, ok := ParseCommand(k.String())
		require.True(t, ok, k.String())
		require.Equal(t, k, got)
	}
	_, ok := ParseCommand("frobnicate")
	require.False(t, ok)
	_, ok = ParseCommand("")
	require.False(t, ok)

	for k := EvBootstrap; k <= EvError; k++ {
		got, ok := ParseEvent(k.String())
		require.True(t, ok, k.String())
		require.Equal(t, k, got)
	}
	require.Equal(t, "breakpoint_create", EvBreakpointCreate.String())
}
