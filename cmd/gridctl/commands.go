package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gnemet/gridengine"
	"github.com/gnemet/gridengine/internal/config"
	"github.com/gnemet/gridengine/record"
)

func newValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [table-config...]",
		Short: "Validate table configs against the table config schema",
		Long: `Validate checks each file against the embedded JSON Schema. Without
arguments it validates every table listed in the application config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				cfg, err := config.Load(g.configPath)
				if err != nil {
					return err
				}
				paths = cfg.TablePaths()
			}

			out := cmd.OutOrStdout()
			invalid := 0
			for _, p := range paths {
				data, err := os.ReadFile(p)
				if err == nil {
					err = gridengine.ValidateTableConfig(data)
				}
				if err != nil {
					invalid++
					fmt.Fprintf(out, "FAIL %s: %v\n", filepath.Base(p), err)
					continue
				}
				fmt.Fprintf(out, "ok   %s\n", filepath.Base(p))
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d table configs invalid", invalid, len(paths))
			}
			return nil
		},
	}
}

func newPlanCmd(g *globals) *cobra.Command {
	var sf stateFlags
	cmd := &cobra.Command{
		Use:   "plan <table>",
		Short: "Print the SQL a grid request compiles to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			defer a.close()
			t, err := a.table(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}

			st := sf.resolve(cmd.Context(), cmd, t)
			q := t.Plan(st)
			page, pageArgs, err := q.PageSQL(st.Page, st.PerPage)
			if err != nil {
				return err
			}
			count, countArgs, err := q.CountSQL()
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]any{
				"page":       map[string]any{"sql": page, "args": pageArgs},
				"count":      map[string]any{"sql": count, "args": countArgs},
				"eager":      q.Eager,
				"sort":       q.Sort.State.String(),
				"sortReason": q.Sort.Reason,
			})
		},
	}
	sf.bind(cmd)
	return cmd
}

func newListCmd(g *globals) *cobra.Command {
	var sf stateFlags
	cmd := &cobra.Command{
		Use:   "list <table>",
		Short: "Fetch and render one page as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			defer a.close()
			t, err := a.table(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}
			res, err := t.Fetch(cmd.Context(), sf.resolve(cmd.Context(), cmd, t))
			if err != nil {
				return err
			}
			return writeJSON(cmd, res)
		},
	}
	sf.bind(cmd)
	return cmd
}

func newDistinctCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "distinct <table> <column>",
		Short: "Print the distinct values of a filterable column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			defer a.close()
			t, err := a.table(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}
			values, err := t.DistinctValues(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd, values)
		},
	}
}

func newExportCmd(g *globals) *cobra.Command {
	var sf stateFlags
	cmd := &cobra.Command{
		Use:   "export <table>",
		Short: "Stream every matching row as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			defer a.close()
			t, err := a.table(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			err = t.Export(cmd.Context(), sf.resolve(cmd.Context(), cmd, t), func(rows []record.Row) error {
				for _, r := range rows {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				n += len(rows)
				return nil
			})
			if err != nil {
				return err
			}
			a.logger.Info("export finished", "table", t.ID(), "rows", n)
			return nil
		},
	}
	sf.bind(cmd)
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
