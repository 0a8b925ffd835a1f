package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare prepares cmd flag set for the invocation of its usage function by
// hiding flags that we want cobra to parse but we don't want to show to the
// user.
// The flags live on the root command so that they can be given before the
// subcommand name, for example:
//
//	stardbg --tty connect 127.0.0.1:4444
//
// must parse successfully even though the tty flag is not applicable to
// the 'connect' subcommand.
//
// Prepare is a destructive command, cmd can not be reused after it has been
// called.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "stardbg", "help", "log":
		hideAllFlags(cmd)
	case "version":
		hideInheritedFlags(cmd)
	case "run":
		hideFlag(cmd, "tty")
		hideFlag(cmd, "wd")
	case "connect":
		hideFlag(cmd, "listen")
		hideFlag(cmd, "only-same-user")
		hideFlag(cmd, "tty")
		hideFlag(cmd, "wd")
	case "debug":
		// All flags apply
	}
}

func hideAllFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
}

func hideInheritedFlags(cmd *cobra.Command) {
	cmd.InheritedFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
}

func hideFlag(cmd *cobra.Command, name string) {
	if cmd == nil {
		return
	}
	flag := cmd.Flags().Lookup(name)
	if flag != nil {
		flag.Hidden = true
		return
	}
	hideFlag(cmd.Parent(), name)
}
