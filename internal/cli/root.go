// Package cli holds the tablesync cobra commands: a live schedule watcher
// and grid checks and moves against a tablepulse server.
package cli

import (
	"errors"
	"net/http"
	"os"

	"github.com/pscheid92/tablepulse/internal/apiclient"
	"github.com/pscheid92/tablepulse/internal/platform/logging"
	"github.com/spf13/cobra"
)

const (
	envServer = "TABLEPULSE_URL"
	envCookie = "TABLEPULSE_COOKIE"

	defaultServer = "http://localhost:8080"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	server   string
	cookie   string
	logLevel string
}

// sessionHeader carries the session cookie for both the API and the stream.
func (o *options) sessionHeader() http.Header {
	h := http.Header{}
	if o.cookie != "" {
		h.Set("Cookie", o.cookie)
	}
	return h
}

func (o *options) apiClient() (*apiclient.Client, error) {
	if o.cookie == "" {
		return nil, errors.New("a session cookie is required (--cookie or " + envCookie + ")")
	}
	return apiclient.New(apiclient.Options{BaseURL: o.server, Header: o.sessionHeader()})
}

// NewRoot constructs the tablesync root command.
func NewRoot() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "tablesync",
		Short:         "TablePulse schedule sync client",
		Long:          "tablesync follows a tenant's live schedule over the stream and checks or applies table moves.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.InitLogger(cmd.ErrOrStderr(), opts.logLevel, "text")
		},
	}

	server := os.Getenv(envServer)
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "Server base URL (or set "+envServer+")")
	root.PersistentFlags().StringVar(&opts.cookie, "cookie", os.Getenv(envCookie), "Session cookie, e.g. tablepulse.sid=s%3A... (or set "+envCookie+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	root.AddCommand(
		newWatchCommand(opts),
		newGridCommand(opts),
		newVersionCommand(),
	)
	return root
}
