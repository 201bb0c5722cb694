// Package cli implements inboxctl, the operator CLI for an inbox server.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"inbox/cmd/internal/api"
	"inbox/cmd/internal/app"

	"github.com/spf13/cobra"
)

const AppName = "inboxctl"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

// Execute runs inboxctl with os.Args.
func Execute() error {
	if err := app.LoadDotEnv(); err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return NewRootCmd(Version).ExecuteContext(ctx)
}

type globalOptions struct {
	server  string
	token   string
	user    string
	lang    string
	timeout time.Duration
	json    bool
}

// NewRootCmd builds the inboxctl command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "inboxctl - operate an inbox server",
		Long:          "inboxctl issues tokens and inspects or resolves direct-message threads over the HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.server, "server", app.EnvString("INBOX_SERVER_URL", "http://127.0.0.1:8080"), "server base URL")
	pf.StringVar(&opts.token, "token", app.EnvString("INBOX_TOKEN", ""), "bearer access token")
	pf.StringVar(&opts.user, "user", app.EnvString("INBOX_USER", ""), "user id for dev-insecure servers")
	pf.StringVar(&opts.lang, "lang", app.EnvString("INBOX_LANG", ""), "preferred language for error messages")
	pf.DurationVar(&opts.timeout, "timeout", app.EnvDuration("INBOX_CLIENT_TIMEOUT", 10*time.Second), "per-request timeout")
	pf.BoolVar(&opts.json, "json", false, "output in JSON format")

	cmd.AddCommand(
		newKeygenCmd(opts),
		newTokenCmd(opts),
		newWhoamiCmd(opts),
		newConversationsCmd(opts),
		newResolveCmd(opts),
		newSmokeCmd(opts),
	)
	return cmd
}

func (o *globalOptions) client() (*api.Client, error) {
	var copts []api.ClientOption
	if o.token != "" {
		copts = append(copts, api.WithToken(o.token))
	}
	if o.user != "" {
		copts = append(copts, api.WithDevUser(o.user))
	}
	if o.lang != "" {
		copts = append(copts, api.WithLanguage(o.lang))
	}
	copts = append(copts, api.WithTimeout(o.timeout))
	return api.NewClient(o.server, copts...)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
