package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/docchat/internal/store"
	"github.com/spf13/cobra"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation",
	Long: `Delete a conversation with its whole transcript.

Other clients showing the conversation drop it as soon as the deletion
reaches them. Requires confirmation unless --force is used.

Examples:
  docchat delete 3f6c1c9e-5b1a-4c1e-9f0e-2a7d8e4b1c55
  docchat delete 3f6c1c9e-5b1a-4c1e-9f0e-2a7d8e4b1c55 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	owner, err := currentUser()
	if err != nil {
		return err
	}
	st, err := getStore(ctx)
	if err != nil {
		return err
	}

	rec, err := fetchRecord(ctx, st, owner, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("conversation not found: %s", id)
	}
	if err != nil {
		return err
	}

	// Confirm deletion
	if !deleteForce {
		fmt.Fprintf(out, "About to delete: %s (%d messages)\n", rec.Title, len(rec.Messages))
		fmt.Fprint(out, "\nContinue? [y/N]: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))

		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := st.DeleteConversation(ctx, owner, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("conversation not found or already deleted")
		}
		return fmt.Errorf("delete conversation: %w", err)
	}

	fmt.Fprintf(out, "Deleted: %s\n", rec.Title)
	return nil
}
