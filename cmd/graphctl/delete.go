package main

import (
	"github.com/spf13/cobra"

	"knowgraph/application/services"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [graph-id]",
	Short: "Delete a graph and its whole history",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	return withService(cmd.Context(), func(svc *services.GraphHistoryService) error {
		result, err := svc.DeleteGraph(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cmd.Printf("Deleted %s (%d versions)\n", result.ID, result.SnapshotsRemoved)
		return nil
	})
}
