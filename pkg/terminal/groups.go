package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	breakCmds
	runCmds
	dataCmds
	stackCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the script", runCmds},
	{"Manipulating breakpoints", breakCmds},
	{"Viewing script variables", dataCmds},
	{"Viewing the call stack and selecting frames", stackCmds},
	{"Other commands", otherCmds},
}
