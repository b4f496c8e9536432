package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daveroberts0321/flagfilter/audience"
	"github.com/daveroberts0321/flagfilter/config"
	"github.com/daveroberts0321/flagfilter/generator"
	"github.com/daveroberts0321/flagfilter/project"
	"github.com/daveroberts0321/flagfilter/spec/openapi"
	"github.com/daveroberts0321/flagfilter/tsgen"
	"github.com/daveroberts0321/flagfilter/watch"
)

// audiencePaths prefers paths named on the command line over the config.
func audiencePaths(cfg *config.Config, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return cfg.AudienceFiles
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <dir>",
		Short: "Initialize a new flagfilter project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if err := project.Init(dir); err != nil {
				return fmt.Errorf("failed to initialize project: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Project '%s' initialized successfully!\n", dir)
			fmt.Fprintf(out, "   cd %s\n", dir)
			fmt.Fprintf(out, "   flagfilter serve\n")
			return nil
		},
	}
}

func newLintCmd(opts *rootOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "lint [path]...",
		Short: "Check every audience file of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(configPath)
			if err != nil {
				return err
			}
			paths := audiencePaths(cfg, args)
			files, err := project.FindAudienceFiles(paths...)
			if err != nil {
				return err
			}
			problems, err := project.Check(paths...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range problems {
				fmt.Fprintln(out, p.String())
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d problems in %d files", len(problems), len(files))
			}
			fmt.Fprintf(out, "ok: %d files\n", len(files))
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to "+project.ConfigFile)
	return cmd
}

func newAddAudienceCmd() *cobra.Command {
	var file string
	var a audience.Audience
	cmd := &cobra.Command{
		Use:   "add-audience",
		Short: "Append an audience to an audience file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			added, err := generator.GenerateAudience(file, a)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Audience %s added to %s\n", added.AudienceID, file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", filepath.Join("audiences", "default.yaml"), "Audience file to append to")
	cmd.Flags().StringVar(&a.AudienceID, "id", "", "Audience id")
	cmd.Flags().StringVar(&a.Name, "name", "", "Display name, derived from the id when empty")
	cmd.Flags().StringVar(&a.Description, "description", "", "Description")
	cmd.Flags().StringVar(&a.Filter, "filter", "", "Filter expression")
	cmd.Flags().StringVar(&a.AppID, "app", "", "App id, defaults to the file's app")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("filter")
	return cmd
}

func newOpenAPICmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print or write the HTTP API's OpenAPI document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				doc, err := openapi.Generate()
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), doc)
				return err
			}
			if err := generator.GenerateOpenAPI(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OpenAPI spec written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write to this file instead of stdout, e.g. "+generator.DefaultOpenAPIPath)
	return cmd
}

func newTSCmd() *cobra.Command {
	var specPath, out string
	cmd := &cobra.Command{
		Use:   "ts",
		Short: "Generate TypeScript types and an API client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if specPath != "" {
				if err := tsgen.Generate(specPath, out); err != nil {
					return err
				}
			} else {
				doc, err := openapi.Generate()
				if err != nil {
					return err
				}
				if err := tsgen.Render([]byte(doc), out); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "TypeScript client written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "OpenAPI document to read instead of the built in one")
	cmd.Flags().StringVarP(&out, "out", "o", tsgen.DefaultDir, "Output directory")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "watch [path]...",
		Short: "Lint audience files whenever they change",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(configPath)
			if err != nil {
				return err
			}
			logger := cfg.Logger()
			paths := audiencePaths(cfg, args)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lint := func() error {
				problems, err := project.Check(paths...)
				if err != nil {
					return err
				}
				for _, p := range problems {
					logger.Warn("audience problem", "problem", p.String())
				}
				if len(problems) > 0 {
					return fmt.Errorf("%d problems", len(problems))
				}
				return nil
			}
			if err := lint(); err != nil {
				logger.Error("check failed", "error", err)
			}
			return watch.Watch(ctx, paths, lint, logger)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to "+project.ConfigFile)
	return cmd
}
