package main

import (
	"errors"
	"os"
	"time"

	"github.com/jrsteele09/go-audit-server/poller"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const sessionEnvVar = "AUDIT_SESSION_ID"

type GlobalOptions struct {
	ServerURL string
	SessionID string
	Interval  time.Duration
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ServerURL: "http://localhost:8080",
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ServerURL, "server-url", "u", o.ServerURL, "Address of the audit server")
	fs.StringVar(&o.SessionID, "session", o.SessionID, "Session id (defaults to $"+sessionEnvVar+")")
	fs.DurationVar(&o.Interval, "interval", o.Interval, "Fixed delay between status reads (default: the server's Retry-After, else "+poller.DefaultInterval.String()+")")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	if o.SessionID == "" {
		o.SessionID = os.Getenv(sessionEnvVar)
	}
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	if o.ServerURL == "" {
		return errors.New("server url is required")
	}
	if o.SessionID == "" {
		return errors.New("a session id is required: sign in through the dashboard and pass --session or set " + sessionEnvVar)
	}
	if o.Interval < 0 {
		return errors.New("interval must not be negative")
	}
	return nil
}

func (o *GlobalOptions) Client() *poller.Client {
	return poller.New(o.ServerURL, o.SessionID, poller.WithInterval(o.Interval))
}
