package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daveroberts0321/flagfilter/parser/filterquery"
)

// decodeJSON keeps numbers as json.Number so integer context values stay exact.
func decodeJSON(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to decode JSON: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportSyntaxError points at the offending byte of source.
func reportSyntaxError(w io.Writer, source string, err error) {
	var serr *filterquery.SyntaxError
	if !errors.As(err, &serr) {
		return
	}
	offset := min(serr.Offset, len(source))
	fmt.Fprintf(w, "  %s\n  %s^\n", source, strings.Repeat(" ", offset))
}

func newCheckCmd() *cobra.Command {
	var accessors bool
	cmd := &cobra.Command{
		Use:   "check <filter>...",
		Short: "Validate filters and print their canonical form",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, source := range args {
				q, err := filterquery.Compile(source)
				if err != nil {
					failed++
					fmt.Fprintf(out, "invalid %q: %v\n", source, err)
					reportSyntaxError(out, source, err)
					continue
				}
				fmt.Fprintf(out, "ok      %s\n", q.String())
				if accessors {
					for _, key := range filterquery.Accessors(q.Root) {
						fmt.Fprintf(out, "        - %s\n", key)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d filters invalid: %w", failed, len(args), filterquery.ErrBadFilter)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&accessors, "accessors", false, "List the context keys each filter reads")
	return cmd
}

func newFmtCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fmt <filter>",
		Short: "Print the canonical form of a filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := filterquery.Compile(args[0])
			if err != nil {
				reportSyntaxError(cmd.ErrOrStderr(), args[0], err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), q.String())
			return nil
		},
	}
}

func newEvalCmd() *cobra.Command {
	var contextArg string
	cmd := &cobra.Command{
		Use:   "eval <filter>",
		Short: "Evaluate a filter against a JSON context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := filterquery.Compile(args[0])
			if err != nil {
				reportSyntaxError(cmd.ErrOrStderr(), args[0], err)
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
			value, err := json.Marshal(q.Eval(ctx))
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "value: %s\n", value)
			fmt.Fprintf(out, "match: %t\n", q.Match(ctx))
			return nil
		},
	}
	cmd.Flags().StringVarP(&contextArg, "context", "c", "{}", "Context as JSON, @file or @- for stdin")
	return cmd
}

func newFilterCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "filter <filter>",
		Short: "Filter a JSON array of objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, "@"+input)
			if err != nil {
				return err
			}
			var items []map[string]any
			if err := decodeJSON(data, &items); err != nil {
				return err
			}
			matched, err := filterquery.Filter(items, args[0])
			if err != nil {
				reportSyntaxError(cmd.ErrOrStderr(), args[0], err)
				return err
			}
			return writeJSON(cmd.OutOrStdout(), matched)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "JSON file holding an array of objects, - for stdin")
	return cmd
}

func newASTCmd() *cobra.Command {
	var mermaid, tokens, simplify bool
	cmd := &cobra.Command{
		Use:   "ast <filter>",
		Short: "Print the tokens or syntax tree of a filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, out := args[0], cmd.OutOrStdout()
			if tokens {
				for tok, err := range filterquery.Tokens(source) {
					if err != nil {
						reportSyntaxError(cmd.ErrOrStderr(), source, err)
						return err
					}
					fmt.Fprintln(out, tok.String())
				}
				return nil
			}

			var opts []filterquery.ParserOpt
			if simplify {
				opts = append(opts, filterquery.WithSimplify())
			}
			root, err := filterquery.Parse(source, opts...)
			if err != nil {
				reportSyntaxError(cmd.ErrOrStderr(), source, err)
				return err
			}
			if mermaid {
				return filterquery.PrintMermaid(out, root, source)
			}
			return filterquery.PrintTree(out, root)
		},
	}
	cmd.Flags().BoolVar(&mermaid, "mermaid", false, "Render the tree as a mermaid flowchart")
	cmd.Flags().BoolVar(&tokens, "tokens", false, "Print the token stream instead of the tree")
	cmd.Flags().BoolVar(&simplify, "simplify", false, "Strip source tokens from the tree")
	return cmd
}
