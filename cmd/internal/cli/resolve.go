package cli

import (
	"strings"
	"time"

	"inbox/cmd/internal/surface"
	"inbox/cmd/internal/thread"

	"github.com/spf13/cobra"
)

type resolveOutput struct {
	Requested      string   `json:"requested"`
	ConversationID string   `json:"conversation_id"`
	ParticipantIDs []string `json:"participant_ids"`
	Kind           string   `json:"kind"`
	Path           string   `json:"path"`
	Created        bool     `json:"created"`
	HistoryPath    string   `json:"history_path"`
	Mode           string   `json:"mode"`
}

func newResolveCmd(opts *globalOptions) *cobra.Command {
	var (
		local      bool
		retryDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "resolve <person-or-conversation-id>",
		Short: "Resolve an identifier to its canonical conversation, creating a direct one if needed",
		Long: "Resolve maps a person id or conversation id to exactly one conversation.\n" +
			"By default the server resolves; with --local the resolver runs in this process\n" +
			"against the HTTP API, which is useful to exercise the client-side engine.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier := strings.TrimSpace(args[0])

			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var out resolveOutput
			if local {
				me, err := c.Me(ctx)
				if err != nil {
					return err
				}
				r, err := thread.NewResolver(c, thread.WithRetryDelay(retryDelay))
				if err != nil {
					return err
				}

				history := surface.NewHistory(surface.ListPath)
				history.Push(surface.ConversationPath(identifier))

				res, err := r.Resolve(ctx, identifier, me.UserID)
				if err != nil {
					return err
				}
				surface.NewSynchronizer(history, nil, nil).Resolved(identifier, res)

				out = resolveOutput{
					Requested:      res.Requested,
					ConversationID: res.ID,
					ParticipantIDs: res.ParticipantIDs,
					Kind:           res.Kind.String(),
					Path:           string(res.Path),
					Created:        res.Created,
					HistoryPath:    history.Current(),
					Mode:           "local",
				}
			} else {
				res, err := c.Resolve(ctx, identifier)
				if err != nil {
					return err
				}
				out = resolveOutput{
					Requested:      res.Requested,
					ConversationID: res.Conversation.ID,
					ParticipantIDs: res.Conversation.ParticipantIDs,
					Kind:           res.Kind,
					Path:           res.Path,
					Created:        res.Created,
					HistoryPath:    surface.ConversationPath(res.Conversation.ID),
					Mode:           "server",
				}
			}

			if opts.json {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			verb := "found"
			if out.Created {
				verb = "created"
			}
			printf(cmd, "%s %s (%s, via %s)\n", verb, out.ConversationID, strings.Join(out.ParticipantIDs, " + "), out.Path)
			printf(cmd, "  open: %s\n", out.HistoryPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "run the resolver in this process")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", thread.DefaultRetryDelay, "wait before the single retry of a conversation fetch (--local)")
	return cmd
}
