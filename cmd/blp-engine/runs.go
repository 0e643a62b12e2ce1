// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/blp-engine/internal/runstore"
	"github.com/pdiddy/blp-engine/pkg/types"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored estimation runs (list, show, export, delete)",
	Long: `Runs reads the SQLite run store written by estimate and optimize. Use
subcommands to list runs, show one run with its market summaries, export
all runs to YAML or JSON, or delete a run.`,
}

// --- list subcommand ---

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE:  runRunsList,
}

func runRunsList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := runstore.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	return formatRunList(runs, jsonOutput)
}

func formatRunList(runs []types.RunRecord, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs stored.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-36s  %-8s  %-20s  %14s  %-9s  %s\n",
		"ID", "Kind", "Created", "GMM value", "Converged", "Manifest")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 120))
	for _, r := range runs {
		fmt.Fprintf(os.Stdout, "%-36s  %-8s  %-20s  %14.6g  %-9t  %s\n",
			r.ID, r.Kind, r.CreatedAt.Format("2006-01-02 15:04:05"), r.GMMValue, r.Converged, r.Manifest)
	}
	fmt.Fprintf(os.Stdout, "\n%d runs\n", len(runs))
	return nil
}

// --- show subcommand ---

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run with its market summaries",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := runstore.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		data, err := yaml.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return printRecord(os.Stdout, rec, jsonOutput)
}

// --- export subcommand ---

var runsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all runs to YAML or JSON",
	Long: `Export writes every stored run, including market summaries, to
export.yaml or export.json in the store directory (or --out).`,
	RunE: runRunsExport,
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	out, _ := cmd.Flags().GetString("out")

	store, err := runstore.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	path, err := store.Export(cmd.Context(), runstore.ExportFormat(format), out)
	if err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", path)
	return nil
}

// --- delete subcommand ---

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := runstore.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Delete(cmd.Context(), args[0])
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs (0 = all)")
	runsListCmd.Flags().Bool("json", false, "output as JSON")

	runsShowCmd.Flags().Bool("json", false, "output as JSON")
	runsShowCmd.Flags().Bool("yaml", false, "output as YAML")

	runsExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	runsExportCmd.Flags().String("out", "", "output directory (default: store directory)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsExportCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}
