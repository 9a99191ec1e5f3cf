package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your conversations",
	Long: `List your conversations, most recently updated first.

Examples:
  docchat list --user alice
  docchat list -n 5`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "max results (0 = all)")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	owner, err := currentUser()
	if err != nil {
		return err
	}
	st, err := getStore(ctx)
	if err != nil {
		return err
	}

	summaries, err := firstList(ctx, st, owner)
	if err != nil {
		return err
	}
	if listLimit > 0 && len(summaries) > listLimit {
		summaries = summaries[:listLimit]
	}

	printSummaries(cmd.OutOrStdout(), summaries)
	return nil
}

// printSummaries writes a numbered list. The numbers are what /open accepts.
func printSummaries(w io.Writer, summaries []models.ConversationSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No conversations yet.")
		return
	}
	for i, s := range summaries {
		fmt.Fprintf(w, "%2d. %s\n    %s  updated %s\n", i+1, s.Title, s.ID, s.LastUpdatedAt.Local().Format(time.DateTime))
	}
}
