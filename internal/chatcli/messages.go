package chatcli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/casechat/internal/chatcache"
	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
	"github.com/tOgg1/casechat/internal/render"
)

func newSendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <conversation> [message]",
		Short: "Send a message",
		Long:  "Send a message to user:<id> or team:<id>. The body is read from stdin when omitted.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSend(cmd, args)
		},
	}
	cmd.Flags().StringP("type", "t", "", "message type (normal, important, info, action-required)")
	cmd.Flags().Int64("reply-to", 0, "id of the message being answered")
	cmd.Flags().String("link", "", "attach a link url")
	cmd.Flags().String("link-title", "", "title of the attached link")
	cmd.Flags().Bool("json", false, "print the stored message as JSON")
	return cmd
}

func (a *app) runSend(cmd *cobra.Command, args []string) error {
	recipient, err := parseTarget(args[0])
	if err != nil {
		return err
	}

	body := ""
	if len(args) > 1 {
		body = args[1]
	} else if body, err = readStdinIfPiped(cmd.InOrStdin()); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	rawType, _ := cmd.Flags().GetString("type")
	msgType, err := models.ParseMessageType(rawType)
	if err != nil {
		return err
	}
	link, _ := cmd.Flags().GetString("link")
	linkTitle, _ := cmd.Flags().GetString("link-title")

	req := msgapi.CreateRequest{
		Recipient: recipient,
		Content:   strings.TrimSpace(body),
		Type:      msgType,
		LinkURL:   strings.TrimSpace(link),
		LinkTitle: strings.TrimSpace(linkTitle),
	}
	if cmd.Flags().Changed("reply-to") {
		parent, _ := cmd.Flags().GetInt64("reply-to")
		req.ParentID = &parent
	}
	if err := req.Validate(); err != nil {
		return err
	}

	msg, err := a.svc.CreateMessage(commandContext(cmd), req)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), msg)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "#%s\n", msg.ID)
	return nil
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history <conversation>",
		Aliases: []string{"log"},
		Short:   "Show a conversation",
		Long: "Show the newest messages of a conversation, oldest first. " +
			"Use --older with the oldest id shown to page further back.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHistory(cmd, args)
		},
	}
	cmd.Flags().IntP("limit", "n", 0, "messages per page (default sync.page_size)")
	cmd.Flags().Int64("older", 0, "show messages older than this id")
	cmd.Flags().StringP("search", "s", "", "only messages containing this text")
	cmd.Flags().Bool("json", false, "print messages as JSON")
	return cmd
}

func (a *app) runHistory(cmd *cobra.Command, args []string) error {
	recipient, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = a.cfg.Sync.PageSize
	}
	before, _ := cmd.Flags().GetInt64("older")
	search, _ := cmd.Flags().GetString("search")

	msgs, err := a.svc.ListMessages(commandContext(cmd), msgapi.ListQuery{
		Recipient: &recipient,
		BeforeID:  before,
		Limit:     limit,
		Search:    strings.TrimSpace(search),
	})
	if err != nil {
		return err
	}
	if before > 0 {
		// Older pages arrive newest first.
		slices.Reverse(msgs)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), msgs)
	}

	out := cmd.OutOrStdout()
	if len(msgs) == 0 {
		fmt.Fprintln(out, "no messages")
		return nil
	}
	window := chatcache.New(a.userID)
	window.Upsert(msgs...)
	opts := render.Options{SelfID: a.userID, Parents: window}
	for _, msg := range msgs {
		fmt.Fprintln(out, render.Line(msg, opts))
	}
	if len(msgs) == limit {
		oldest, _ := msgs[0].ID.Server()
		fmt.Fprintf(out, "more: casechat history %s --older %d\n", models.RecipientKey(recipient), oldest)
	}
	return nil
}

func newEditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id> [content]",
		Short: "Edit one of your messages",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEdit(cmd, args)
		},
	}
	cmd.Flags().StringP("type", "t", "", "new message type")
	cmd.Flags().String("link", "", "new link url")
	cmd.Flags().String("link-title", "", "new link title")
	return cmd
}

func (a *app) runEdit(cmd *cobra.Command, args []string) error {
	id, err := parseMessageID(args[0])
	if err != nil {
		return err
	}

	var req msgapi.UpdateRequest
	if len(args) > 1 {
		content := args[1]
		req.Content = &content
	}
	if cmd.Flags().Changed("type") {
		rawType, _ := cmd.Flags().GetString("type")
		msgType, err := models.ParseMessageType(rawType)
		if err != nil {
			return err
		}
		req.Type = &msgType
	}
	if cmd.Flags().Changed("link") {
		link, _ := cmd.Flags().GetString("link")
		req.LinkURL = &link
	}
	if cmd.Flags().Changed("link-title") {
		title, _ := cmd.Flags().GetString("link-title")
		req.LinkTitle = &title
	}
	if req.Empty() {
		return fmt.Errorf("nothing to change: pass new content or a flag")
	}

	msg, err := a.svc.UpdateMessage(commandContext(cmd), id, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), render.Line(msg, render.Options{SelfID: a.userID}))
	return nil
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete one of your messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMessageID(args[0])
			if err != nil {
				return err
			}
			if err := a.svc.DeleteMessage(commandContext(cmd), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted #%d\n", id)
			return nil
		},
	}
}

func parseMessageID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(raw), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid message id %q", raw)
	}
	return id, nil
}
