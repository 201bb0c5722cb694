package cli

import (
	"errors"
	"os"
	"strings"
	"time"

	"inbox/cmd/internal/auth"
	"inbox/cmd/internal/ids"

	"github.com/spf13/cobra"
)

func newKeygenCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a PASETO v4 signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := auth.DefaultConfig()
			cfg.PasetoV4SecretKeyHex = auth.GenerateSecretKeyHex()
			tm, err := auth.NewTokenManager(cfg)
			if err != nil {
				return err
			}

			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"secret_key_hex": cfg.PasetoV4SecretKeyHex,
					"public_key_hex": tm.PublicKeyHex(),
				})
			}
			printf(cmd, "INBOX_PASETO_V4_SECRET_KEY_HEX=%s\n", cfg.PasetoV4SecretKeyHex)
			printf(cmd, "# public key: %s\n", tm.PublicKeyHex())
			return nil
		},
	}
}

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var (
		userID    string
		sessionID string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token signed with INBOX_PASETO_V4_SECRET_KEY_HEX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID = strings.TrimSpace(userID)
			if userID == "" {
				return errors.New("--for is required")
			}

			if strings.TrimSpace(os.Getenv("INBOX_PASETO_V4_SECRET_KEY_HEX")) == "" {
				return errors.New("INBOX_PASETO_V4_SECRET_KEY_HEX is not set; run `inboxctl keygen`")
			}
			cfg, err := auth.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			if ttl > 0 {
				cfg.AccessTokenTTL = ttl
			}
			tm, err := auth.NewTokenManager(cfg)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			if sessionID == "" {
				if sessionID, err = ids.NewULID(now); err != nil {
					return err
				}
			}
			tok, exp, err := tm.Issue(userID, sessionID, now)
			if err != nil {
				return err
			}

			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"token":      tok,
					"user_id":    userID,
					"session_id": sessionID,
					"expires_at": exp,
				})
			}
			printf(cmd, "%s\n", tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "for", "", "user id the token is issued to")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: new ULID)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: INBOX_ACCESS_TOKEN_TTL)")
	return cmd
}
