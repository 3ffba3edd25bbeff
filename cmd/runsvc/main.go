package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/runsvc"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// children are re-executions of this binary and must never reach cobra
	if runsvc.IsChild() {
		runsvc.ChildMain()
	}

	root := buildRoot(command{out: os.Stdout})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot(c command) *cobra.Command {
	runFlags := &RunFlags{}
	validateFlags := &ValidateFlags{}
	initFlags := &ConfigInitFlags{}

	root := &cobra.Command{
		Use:   "runsvc",
		Short: "Minimal supervisor for a fixed set of services",
		Long: `runsvc starts every configured service in its own working directory,
restarts services that die (at most once every 30 seconds per service) and
stops all of them on SIGINT or SIGTERM.

Examples:
  runsvc run --config /etc/runsvc/runsvc.toml
  runsvc run --config runsvc.toml --service services/web.json --kill-subject children
  runsvc validate --config runsvc.toml
  runsvc config init --output runsvc.toml`,
		SilenceUsage: true,
	}
	root.AddCommand(
		createRunCommand(c, runFlags),
		createValidateCommand(c, validateFlags),
		createConfigCommand(c, initFlags),
		createVersionCommand(c),
	)
	return root
}

func createRunCommand(c command, f *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Supervise the configured services until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "path to the configuration file (TOML, JSON or YAML)")
	cmd.Flags().StringArrayVar(&f.ServiceFiles, "service", nil, "additional service definition file (repeatable)")
	cmd.Flags().StringVar(&f.KillSubject, "kill-subject", "", "shutdown signal target: group, children or pid:<n>")
	cmd.Flags().StringVar(&f.LogSink, "log-sink", "", "log sink: console, file or syslog")
	cmd.Flags().StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	cmd.Flags().StringVar(&f.PIDFile, "pid-file", "", "write the supervisor pid to this file")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}

func createValidateCommand(c command, f *ValidateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then print the resolved services as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Validate(*f)
		},
	}
	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "path to the configuration file")
	cmd.Flags().StringArrayVar(&f.ServiceFiles, "service", nil, "additional service definition file (repeatable)")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}

func createConfigCommand(c command, f *ConfigInitFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ConfigInit(*f)
		},
	}
	initCmd.Flags().StringVarP(&f.Output, "output", "o", "runsvc.toml", "file to write")
	initCmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)
	return cfgCmd
}

func createVersionCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(c.writer(), "runsvc", version)
		},
	}
}

func (c command) writer() io.Writer {
	if c.out == nil {
		return os.Stdout
	}
	return c.out
}
