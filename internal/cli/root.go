// Package cli wires the gitbridge commands.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config    string
	LogLevel  string
	LogFormat string
}

// NewRootCommand creates the root command for the gitbridge CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "gitbridge",
		Short: "HTTP facade over a git repository mirror",
		Long: `gitbridge serves file uploads, moves and deletes over HTTP and
publishes every mutation as a commit to the configured upstream
repository.`,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "config.yml", "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (error|warn|info|debug)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "json", "log format (json|console)")

	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}
