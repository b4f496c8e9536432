package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daveroberts0321/flagfilter/audience"
	"github.com/daveroberts0321/flagfilter/config"
	"github.com/daveroberts0321/flagfilter/parser/filterquery"
	"github.com/daveroberts0321/flagfilter/project"
	"github.com/daveroberts0321/flagfilter/server"
	"github.com/daveroberts0321/flagfilter/watch"
)

// source is where a running process reads its audiences from: audience
// files, a database table, or both.
type source struct {
	files []string
	db    *sql.DB
	table string
}

func openSource(cfg *config.Config, files []string) (*source, error) {
	s := &source{files: files, table: cfg.Database.Table}
	if cfg.Database.URL != "" {
		db, err := audience.OpenSQL(cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		s.db = db
	}
	return s, nil
}

func (s *source) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *source) load(ctx context.Context) (*audience.File, error) {
	var parts []*audience.File
	if len(s.files) > 0 {
		f, err := project.Build(s.files...)
		if err != nil {
			return nil, err
		}
		parts = append(parts, f)
	}
	if s.db != nil {
		f, err := audience.LoadSQL(ctx, s.db, s.table)
		if err != nil {
			return nil, err
		}
		parts = append(parts, f)
	}
	merged := audience.Merge(parts...)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *source) reload(ctx context.Context, store *audience.Store, logger *slog.Logger) error {
	f, err := s.load(ctx)
	if err != nil {
		return err
	}
	store.Replace(f)
	logger.Info("audiences loaded",
		"audiences", len(f.Audiences),
		"flags", len(f.Flags),
		"overrides", len(f.Overrides))
	return nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		configPath string
		listen     string
		watchFiles bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve audience matching over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("watch") {
				cfg.Watch = watchFiles
			}
			logger := cfg.Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			src, err := openSource(cfg, cfg.AudienceFiles)
			if err != nil {
				return err
			}
			defer src.Close()

			store := audience.NewStore()
			if err := src.reload(ctx, store, logger); err != nil {
				return err
			}
			matcher := audience.NewMatcher(store, cfg.CacheSize, logger)
			srv, err := server.New(store, matcher, server.Options{
				RatePerSecond: cfg.RateLimit.PerSecond,
				Burst:         cfg.RateLimit.Burst,
				APIKeys:       cfg.APIKeys,
				Logger:        logger,
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("listening", "addr", cfg.Listen)
				return srv.ListenAndServe(gctx, cfg.Listen)
			})
			if cfg.Watch && len(src.files) > 0 {
				g.Go(func() error {
					return watch.Watch(gctx, src.files, func() error {
						return src.reload(gctx, store, logger)
					}, logger)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to "+project.ConfigFile)
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides the config")
	cmd.Flags().BoolVar(&watchFiles, "watch", false, "Reload audience files when they change")
	return cmd
}

func newMatchCmd(opts *rootOptions) *cobra.Command {
	var (
		configPath string
		files      []string
		returns    string
		contextArg string
		app        string
	)
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match a JSON context against a project's audiences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := audience.ParseReturns(returns)
			if err != nil {
				return err
			}
			cfg, err := opts.config(configPath)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, contextArg)
			if err != nil {
				return err
			}
			ctx := filterquery.Context{}
			if err := decodeJSON(data, &ctx); err != nil {
				return err
			}

			src, err := openSource(cfg, audiencePaths(cfg, files))
			if err != nil {
				return err
			}
			defer src.Close()
			logger := cfg.Logger()
			store := audience.NewStore()
			if err := src.reload(cmd.Context(), store, logger); err != nil {
				return err
			}
			result, err := audience.NewMatcher(store, cfg.CacheSize, logger).Match(app, r, ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to "+project.ConfigFile)
	cmd.Flags().StringSliceVarP(&files, "audiences", "a", nil, "Audience files or directories, overrides the config")
	cmd.Flags().StringVarP(&returns, "returns", "r", string(audience.ReturnFlags), "What to return: audiences, overrides or flags")
	cmd.Flags().StringVarP(&contextArg, "context", "c", "{}", "Context as JSON, @file or @- for stdin")
	cmd.Flags().StringVar(&app, "app", audience.DefaultApp, "App id")
	return cmd
}

func newDBCmd(opts *rootOptions) *cobra.Command {
	var configPath, url, table string
	resolve := func() (*config.Config, error) {
		cfg, err := opts.config(configPath)
		if err != nil {
			return nil, err
		}
		if url != "" {
			cfg.Database.URL = url
			if cfg.Database.Driver == "" {
				cfg.Database.Driver = "postgres"
			}
		}
		if table != "" {
			cfg.Database.Table = table
		}
		return cfg, nil
	}
	open := func() (*config.Config, *sql.DB, error) {
		cfg, err := resolve()
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.URL == "" {
			return nil, nil, errors.New("no database configured: set database.url, FLAGFILTER_DB_URL or --url")
		}
		db, err := audience.OpenSQL(cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		return cfg, db, nil
	}

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the audience table",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to "+project.ConfigFile)
	cmd.PersistentFlags().StringVar(&url, "url", "", "Database URL, overrides the config")
	cmd.PersistentFlags().StringVar(&table, "table", "", "Audience table, overrides the config")

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the DDL for the audience table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s;\n", audience.Schema(cfg.Database.Table))
			return nil
		},
	}

	var createTable bool
	importCmd := &cobra.Command{
		Use:   "import [path]...",
		Short: "Insert the audiences of audience files into the table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			logger := cfg.Logger()

			f, err := project.Build(audiencePaths(cfg, args)...)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if createTable {
				if _, err := db.ExecContext(ctx, audience.Schema(cfg.Database.Table)); err != nil {
					return fmt.Errorf("failed to create table: %w", err)
				}
			}
			inserted, skipped := 0, 0
			for _, a := range f.Audiences {
				err := audience.InsertSQL(ctx, db, cfg.Database.Table, a)
				switch {
				case errors.Is(err, audience.ErrExists):
					logger.Warn("audience already in table", "app", a.AppID, "audience", a.AudienceID)
					skipped++
				case err != nil:
					return err
				default:
					inserted++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d audiences, %d already present\n", inserted, skipped)
			return nil
		},
	}
	importCmd.Flags().BoolVar(&createTable, "create-table", false, "Create the table first if it does not exist")

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the table's audiences to an audience file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			f, err := audience.LoadSQL(cmd.Context(), db, cfg.Database.Table)
			if err != nil {
				return err
			}
			if err := audience.WriteFile(out, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d audiences to %s\n", len(f.Audiences), out)
			return nil
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "audiences/database.yaml", "Audience file to write")

	cmd.AddCommand(schema, importCmd, export)
	return cmd
}
