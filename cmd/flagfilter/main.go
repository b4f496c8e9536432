// Command flagfilter parses and evaluates audience filters, lints audience
// projects and serves flag matching over HTTP.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daveroberts0321/flagfilter/config"
	"github.com/daveroberts0321/flagfilter/project"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "flagfilter",
		Short:         "Audience filters and feature flag matching",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newCheckCmd(),
		newEvalCmd(),
		newFilterCmd(),
		newASTCmd(),
		newFmtCmd(),
		newInitCmd(),
		newLintCmd(opts),
		newAddAudienceCmd(),
		newOpenAPICmd(),
		newTSCmd(),
		newMatchCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
		newDBCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "flagfilter v%s\n", version)
			},
		},
	)
	return root
}

// config loads path, or the project config in the working directory when
// path is empty and one exists. --log-level wins over the file.
func (o *rootOptions) config(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(project.ConfigFile); err == nil {
			path = project.ConfigFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		if _, err := config.ParseLevel(o.logLevel); err != nil {
			return nil, err
		}
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// readInput resolves a flag value that is either inline data, @path for a
// file, or @- for stdin.
func readInput(cmd *cobra.Command, arg string) ([]byte, error) {
	if !strings.HasPrefix(arg, "@") {
		return []byte(arg), nil
	}
	path := arg[1:]
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
