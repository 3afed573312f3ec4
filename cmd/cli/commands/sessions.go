package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	sessionsCmd.AddCommand(sessionStatusCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect sessions",
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's display status",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		status, err := apiClient.GetSessionStatus(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("error fetching session status: %w", err)
		}

		fmt.Printf("%s: %s (agent=%s, pending_permissions=%d)\n",
			status.SessionID, status.DisplayStatus, status.ClaudeStatus, status.PendingPermissions)
		return nil
	},
}
