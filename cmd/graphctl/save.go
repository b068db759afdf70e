package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"knowgraph/application/services"
	"knowgraph/domain/graph"
	"knowgraph/infrastructure/persistence/schema"
)

var saveCmd = &cobra.Command{
	Use:   "save [graph-id] [file]",
	Short: "Save a graph document as the next version",
	Long: `Reads a graph document (metadata, nodes, edges) from a JSON file and saves
it with history. Without --override, metadata.version must match the latest
stored version.`,
	Args: cobra.ExactArgs(2),
	RunE: runSave,
}

var importCmd = &cobra.Command{
	Use:   "import [graph-id] [file]",
	Short: "Import a graph exported from an older deployment",
	Long: `Reads a stored graph blob, upgrades it from the given format to the
current one and saves it as the next version, ignoring the base version.`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

var (
	saveOverride bool
	importFormat int
)

func init() {
	saveCmd.Flags().BoolVar(&saveOverride, "override", false, "Save even if the base version is stale")
	importCmd.Flags().IntVar(&importFormat, "format", schema.FormatLegacy, "Format version of the file")

	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(importCmd)
}

func runSave(cmd *cobra.Command, args []string) error {
	graphID, path := args[0], args[1]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc graph.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return saveDocument(cmd, graphID, &doc, saveOverride)
}

func runImport(cmd *cobra.Command, args []string) error {
	graphID, path := args[0], args[1]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := schema.NewRegistry().Decode(data, importFormat)
	if err != nil {
		return fmt.Errorf("failed to upgrade %s: %w", path, err)
	}

	return saveDocument(cmd, graphID, doc, true)
}

func saveDocument(cmd *cobra.Command, graphID string, doc *graph.Document, override bool) error {
	return withService(cmd.Context(), func(svc *services.GraphHistoryService) error {
		result, err := svc.SaveWithHistory(cmd.Context(), graphID, doc, override)
		if err != nil {
			return err
		}
		cmd.Printf("Saved %s as version %d\n", result.ID, result.NewVersion)
		return nil
	})
}
