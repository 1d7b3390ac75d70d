package chatcli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
)

func newTeamsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "teams",
		Aliases: []string{"team"},
		Short:   "List and manage teams",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List your teams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			teams, err := a.svc.ListTeams(commandContext(cmd))
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), teams)
			}
			if len(teams) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no teams")
				return nil
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tNAME\tMEMBERS")
			for _, team := range teams {
				fmt.Fprintf(writer, "%d\t%s\t%s\n", team.ID, team.Name, joinIDs(team.MemberIDs))
			}
			return writer.Flush()
		},
	}
	list.Flags().Bool("json", false, "print teams as JSON")

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a team; you are always a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			members, _ := cmd.Flags().GetInt64Slice("member")
			team, err := a.svc.CreateTeam(commandContext(cmd), msgapi.TeamRequest{Name: args[0], MemberIDs: members})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created team %d %q (members %s)\n", team.ID, team.Name, joinIDs(team.MemberIDs))
			return nil
		},
	}
	create.Flags().Int64SliceP("member", "m", nil, "member user id (repeatable)")

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename a team or replace its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTeamUpdate(cmd, args)
		},
	}
	update.Flags().String("name", "", "new team name")
	update.Flags().Int64SliceP("member", "m", nil, "member user id (repeatable, replaces the member list)")

	cmd.AddCommand(list, create, update)
	return cmd
}

func (a *app) runTeamUpdate(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid team id %q", args[0])
	}
	if !cmd.Flags().Changed("name") && !cmd.Flags().Changed("member") {
		return fmt.Errorf("nothing to change: pass --name or --member")
	}

	ctx := commandContext(cmd)
	current, err := a.findTeam(cmd, id)
	if err != nil {
		return err
	}
	req := msgapi.TeamRequest{Name: current.Name, MemberIDs: current.MemberIDs}
	if cmd.Flags().Changed("name") {
		req.Name, _ = cmd.Flags().GetString("name")
	}
	if cmd.Flags().Changed("member") {
		req.MemberIDs, _ = cmd.Flags().GetInt64Slice("member")
	}

	team, err := a.svc.UpdateTeam(ctx, id, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "updated team %d %q (members %s)\n", team.ID, team.Name, joinIDs(team.MemberIDs))
	return nil
}

func (a *app) findTeam(cmd *cobra.Command, id int64) (models.Team, error) {
	teams, err := a.svc.ListTeams(commandContext(cmd))
	if err != nil {
		return models.Team{}, err
	}
	for _, team := range teams {
		if team.ID == id {
			return team, nil
		}
	}
	return models.Team{}, fmt.Errorf("team %d not found among your teams", id)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
