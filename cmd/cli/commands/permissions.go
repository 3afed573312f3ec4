package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mzxrai/memva-sub002/internal/db/models"
)

func init() {
	permissionsCmd.AddCommand(listPermissionsCmd)
	permissionsCmd.AddCommand(decidePermissionCmd)

	listPermissionsCmd.Flags().String("session", "", "Session ID to list requests for")
	listPermissionsCmd.Flags().String("status", string(models.PermissionStatusPending), "Filter by status")
	_ = listPermissionsCmd.MarkFlagRequired("session")
}

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Manage permission requests",
}

var listPermissionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List a session's permission requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		status, _ := cmd.Flags().GetString("status")

		reqs, err := apiClient.GetSessionPermissions(context.Background(), sessionID, status)
		if err != nil {
			return fmt.Errorf("error fetching permission requests: %w", err)
		}

		prettyJSON, err := json.MarshalIndent(reqs, "", "  ")
		if err != nil {
			return fmt.Errorf("error formatting response: %w", err)
		}
		fmt.Println(string(prettyJSON))
		return nil
	},
}

var decidePermissionCmd = &cobra.Command{
	Use:   "decide <request-id> <allow|deny>",
	Short: "Record a decision on a pending permission request",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		id, decision := args[0], args[1]
		if decision != models.DecisionAllow && decision != models.DecisionDeny {
			return fmt.Errorf("decision must be allow or deny")
		}

		if err := apiClient.RecordDecision(context.Background(), id, decision); err != nil {
			return fmt.Errorf("error recording decision: %w", err)
		}

		fmt.Printf("Recorded %s for request %s\n", decision, id)
		return nil
	},
}
