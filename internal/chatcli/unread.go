package chatcli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/casechat/internal/render"
)

func newUnreadCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Show unread counts per conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := a.svc.UnreadCountsDetailed(commandContext(cmd))
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), counts.Clone())
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.UnreadSummary(counts))
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print counts as JSON")
	return cmd
}
