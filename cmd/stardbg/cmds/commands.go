package cmds

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-delve/stardbg/cmd/stardbg/cmds/helphelpers"
	"github.com/go-delve/stardbg/pkg/config"
	"github.com/go-delve/stardbg/pkg/launch"
	"github.com/go-delve/stardbg/pkg/logflags"
	"github.com/go-delve/stardbg/pkg/source"
	"github.com/go-delve/stardbg/pkg/starhost"
	"github.com/go-delve/stardbg/pkg/terminal"
	"github.com/go-delve/stardbg/pkg/version"
	"github.com/go-delve/stardbg/service/client"
	"github.com/go-delve/stardbg/service/runner"
	"github.com/spf13/cobra"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// addr is the runner listen address.
	addr string
	// workingDir is the working directory of the runner started by debug.
	workingDir string
	// checkLocalConnUser is true if the runner should check that local
	// connections come from the same user that started it.
	checkLocalConnUser bool
	// tty is true if the runner started by debug gets its own terminal.
	tty bool
	// verbose makes version print the build information.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const stardbgCommandLongDesc = `stardbg is a source level debugger for Starlark scripts.

A debug session is made of two processes: the runner executes the script and
reports every stop to the client, the client keeps a mirror of the session
and lets you set breakpoints, step through the script and look at its
variables.

Pass arguments to the script you are debugging using ` + "`--`" + `, for example:

` + "`stardbg debug build.star -- --target=release`"

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main stardbg root command.
	rootCommand = &cobra.Command{
		Use:   "stardbg",
		Short: "stardbg is a debugger for Starlark scripts.",
		Long:  stardbgCommandLongDesc,
	}

	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "Runner listen address.")

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging logs.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'stardbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'stardbg help log').")

	rootCommand.PersistentFlags().StringVar(&workingDir, "wd", "", "Working directory for running the script.")
	rootCommand.PersistentFlags().BoolVarP(&checkLocalConnUser, "only-same-user", "", true, "Only connections from the same user that started the runner are allowed.")
	rootCommand.PersistentFlags().BoolVar(&tty, "tty", false, "Give the script its own pseudo terminal.")

	// 'run' subcommand.
	runCommand := &cobra.Command{
		Use:   "run <script> [-- args]",
		Short: "Runs a script under the control of a debug client.",
		Long: `Starts the runner: the script is executed as soon as a client connects.

The runner listens on the address given by --listen and serves one client.
Execution stops before the first line of the script, then follows the
commands of the client until the script finishes or the client quits.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a script to run")
			}
			return nil
		},
		Run: runCmd,
	}
	rootCommand.AddCommand(runCommand)

	// 'debug' subcommand.
	debugCommand := &cobra.Command{
		Use:   "debug <script> [-- args]",
		Short: "Starts a runner for the script and begins debugging it.",
		Long: `Starts a runner for the script in a new process and connects the terminal
client to it.

When the session ends the runner is asked to quit.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a script to debug")
			}
			return nil
		},
		Run: debugCmd,
	}
	rootCommand.AddCommand(debugCommand)

	// 'connect' subcommand.
	connectCommand := &cobra.Command{
		Use:   "connect addr",
		Short: "Connect to a runner.",
		Long:  "Connect the terminal client to a runner started with 'stardbg run'.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide an address as the first argument")
			}
			return nil
		},
		Run: connectCmd,
	}
	rootCommand.AddCommand(connectCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stardbg\n%s\n", version.StardbgVersion)
			if verbose {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	runner		Log the runner session and its connection
	client		Log the client session and the terminal
	wire		Log every message sent or received
	engine		Log the trace decisions of the runner

The default is runner,client.

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "runner listening at" message of the
run command.
`,
	})

	defUsage := rootCommand.UsageFunc()
	rootCommand.SetUsageFunc(func(cmd *cobra.Command) error {
		helphelpers.Prepare(cmd)
		return defUsage(cmd)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func runCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(cmd, args, runScript))
}

func debugCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(cmd, args, debugScript))
}

func connectCmd(cmd *cobra.Command, args []string) {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logflags.Close()
	os.Exit(connect(args[0], nil))
}

func execute(cmd *cobra.Command, args []string, f func(script string, scriptArgs []string) int) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	scriptArgs, dashArgs := splitArgs(cmd, args)
	if len(scriptArgs) != 1 {
		fmt.Fprintf(os.Stderr, "expected one script, got %d arguments before --\n", len(scriptArgs))
		return 1
	}
	return f(scriptArgs[0], dashArgs)
}

func runScript(script string, scriptArgs []string) int {
	listener, err := runner.Listen(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't start listener: %s\n", err)
		return 1
	}

	server, err := runner.NewServer(&runner.Config{
		Listener:           listener,
		Script:             script,
		Args:               scriptArgs,
		Stdout:             os.Stdout,
		Skip:               conf.Skip,
		MaxReprLen:         config.IntOr(conf.MaxReprLen, starhost.DefaultMaxReprLen),
		SourceCacheSize:    config.IntOr(conf.SourceCacheSize, source.DefaultSize),
		CheckLocalConnUser: checkLocalConnUser,
	})
	if err != nil {
		listener.Close()
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	listening(listener.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = server.Run(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 1
	}
	// The traceback of a failed script was reported to the client.
	var scriptErr *starhost.ScriptError
	if !errors.As(err, &scriptErr) {
		fmt.Fprintln(os.Stderr, err)
	}
	return 1
}

// listening prints the address of the runner, on the log destination if
// one was given.
func listening(a net.Addr) {
	if logDest != "" {
		logflags.RunnerLogger().Infof("runner listening at: %s", a)
		return
	}
	fmt.Fprintf(os.Stderr, "runner listening at: %s\n", a)
}

func debugScript(script string, scriptArgs []string) int {
	runnerAddr, err := resolveAddr(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't pick a runner address: %v\n", err)
		return 1
	}

	var flags []string
	if log {
		flags = append(flags, "--log")
		if logOutput != "" {
			flags = append(flags, "--log-output="+logOutput)
		}
	}
	if !checkLocalConnUser {
		flags = append(flags, "--only-same-user=false")
	}

	p, err := launch.Start(launch.Config{
		Addr:   runnerAddr,
		Script: script,
		Args:   scriptArgs,
		Flags:  flags,
		Dir:    workingDir,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		TTY:    tty,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return connect(runnerAddr, p)
}

// resolveAddr replaces a zero port in a with a free one, the client of a
// runner started by debug has to know where it listens.
func resolveAddr(a string) (string, error) {
	host, port, err := net.SplitHostPort(a)
	if err != nil {
		return "", err
	}
	if port != "0" {
		return a, nil
	}
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return "", err
	}
	defer l.Close()
	return l.Addr().String(), nil
}

func connect(addr string, p *launch.Process) int {
	cfg := client.Config{
		Addr:            addr,
		ConnectAttempts: config.IntOr(conf.ConnectAttempts, client.DefaultConnectAttempts),
		ConnectInterval: config.DurationOr(conf.ConnectInterval, client.DefaultConnectInterval),
	}
	if p != nil {
		cfg.Process = p
	}

	term := terminal.New(conf)
	c := client.New(cfg, term)
	term.SetClient(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		err := c.Serve(ctx)
		term.Disconnected()
		serveErr <- err
	}()

	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if term.Interrupted() && p != nil {
		p.Kill()
	}
	if err := c.Stop(); err != nil {
		logflags.ClientLogger().Debugf("stopping the session: %v", err)
	}
	cancel()
	if err := <-serveErr; err != nil && !errors.Is(err, context.Canceled) {
		logflags.ClientLogger().Debugf("serving notifications: %v", err)
	}
	return status
}

func splitArgs(cmd *cobra.Command, args []string) ([]string, []string) {
	if cmd.ArgsLenAtDash() >= 0 {
		return args[:cmd.ArgsLenAtDash()], args[cmd.ArgsLenAtDash():]
	}
	return args, []string{}
}
