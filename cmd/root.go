package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/EdibleTuber/Mother/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/EdibleTuber/Mother/cmd.Version=v1.0.0"
var Version = "dev"

// Exit codes for the process.
const (
	exitOK      = 0
	exitUsage   = 1 // bad flags, missing credentials, config errors
	exitSandbox = 2 // sandbox validation failure
)

var flags config.Flags

var exitCode int

var rootCmd = &cobra.Command{
	Use:   "mother [flags] <working-directory>",
	Short: "Mother — Discord-connected autonomous agent host",
	Long: "Mother maps chat channels to persistent agent sessions rooted in a\n" +
		"filesystem workspace and drives an LLM tool-use loop per inbound message.\n" +
		"Agent side effects run behind a path and command guard, either on the\n" +
		"host or inside a named container.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags.Workdir = args[0]
		exitCode = runHost(flags)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.Sandbox, "sandbox", "host", "where agent commands run: host or a running container name")
	rootCmd.PersistentFlags().BoolVar(&flags.CLI, "cli", false, "drive the agent from stdin/stdout instead of Discord")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mother %s (%s/%s, %s)\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}

// Execute runs the root cobra command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return exitUsage
	}
	return exitCode
}
