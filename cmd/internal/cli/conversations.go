package cli

import (
	"strings"
	"time"

	"inbox/cmd/internal/thread"

	"github.com/spf13/cobra"
)

func newWhoamiCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			me, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}

			if opts.json {
				return writeJSON(cmd.OutOrStdout(), me)
			}
			printf(cmd, "You are %s\n", me.UserID)
			if me.SessionID != "" {
				printf(cmd, "  session: %s\n", me.SessionID)
			}
			if !me.ExpiresAt.IsZero() {
				printf(cmd, "  expires: %s\n", shortTime(me.ExpiresAt))
			}
			return nil
		},
	}
}

func newConversationsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List your conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			me, err := c.Me(ctx)
			if err != nil {
				return err
			}
			convs, err := c.ListConversations(ctx, me.UserID)
			if err != nil {
				return err
			}
			thread.SortByActivity(convs)

			if opts.json {
				out := make([]conversationOutput, 0, len(convs))
				for _, conv := range convs {
					out = append(out, toConversationOutput(me.UserID, conv))
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}
			if len(convs) == 0 {
				printf(cmd, "No conversations.\n")
				return nil
			}
			for _, conv := range convs {
				printConversation(cmd, me.UserID, conv)
			}
			return nil
		},
	}
}

type conversationOutput struct {
	ID             string    `json:"id"`
	With           string    `json:"with"`
	ParticipantIDs []string  `json:"participant_ids"`
	ActivityAt     time.Time `json:"activity_at"`
	LastSenderID   string    `json:"last_sender_id,omitempty"`
	LastText       string    `json:"last_text,omitempty"`
}

func toConversationOutput(me string, conv thread.Conversation) conversationOutput {
	out := conversationOutput{
		ID:             conv.ID,
		With:           conv.Counterpart(me),
		ParticipantIDs: conv.ParticipantIDs,
		ActivityAt:     conv.ActivityAt(),
	}
	if conv.LastMessage != nil {
		out.LastSenderID = conv.LastMessage.SenderID
		out.LastText = conv.LastMessage.Text
	}
	return out
}

func printConversation(cmd *cobra.Command, me string, conv thread.Conversation) {
	with := conv.Counterpart(me)
	if with == "" {
		with = strings.Join(conv.ParticipantIDs, ", ")
	}
	line := "-"
	if conv.LastMessage != nil {
		line = conv.LastMessage.SenderID + ": " + oneLine(conv.LastMessage.Text, 60)
	}
	printf(cmd, "%s  %-20s  %s  %s\n", conv.ID, with, shortTime(conv.ActivityAt()), line)
}
