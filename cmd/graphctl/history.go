package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"knowgraph/application/services"
	"knowgraph/domain/graph"
	"knowgraph/pkg/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored graphs",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var historyCmd = &cobra.Command{
	Use:   "history [graph-id]",
	Short: "List the versions of a graph, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var showCmd = &cobra.Command{
	Use:   "show [graph-id]",
	Short: "Print the current graph or one version as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var showVersion int

func init() {
	showCmd.Flags().IntVarP(&showVersion, "version", "v", 0, "Print this snapshot instead of the current graph")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	return withService(cmd.Context(), func(svc *services.GraphHistoryService) error {
		summaries, err := svc.ListGraphs(cmd.Context())
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			cmd.Println("No graphs stored")
			return nil
		}
		for _, s := range summaries {
			cmd.Printf("%s\tv%d\t%s\t%s\n", s.ID, s.Version, utils.FormatTimestamp(s.UpdatedAt), s.Title)
		}
		return nil
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	graphID := args[0]
	return withService(cmd.Context(), func(svc *services.GraphHistoryService) error {
		list, err := svc.FetchHistoryList(cmd.Context(), graphID)
		if err != nil {
			return err
		}
		cmd.Printf("History of %s:\n\n", list.GraphID)
		for _, entry := range list.History {
			cmd.Printf("  v%-6d %s\n", entry.Version, utils.FormatTimestamp(entry.Timestamp))
		}
		cmd.Printf("\nTotal: %d versions\n", len(list.History))
		return nil
	})
}

func runShow(cmd *cobra.Command, args []string) error {
	graphID := args[0]
	return withService(cmd.Context(), func(svc *services.GraphHistoryService) error {
		var (
			doc *graph.Document
			err error
		)
		if showVersion > 0 {
			doc, err = svc.FetchVersion(cmd.Context(), graphID, showVersion)
		} else {
			doc, err = svc.FetchCurrent(cmd.Context(), graphID)
		}
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode graph: %w", err)
		}
		cmd.Println(string(out))
		return nil
	})
}
