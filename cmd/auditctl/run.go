package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jrsteele09/go-audit-server/audit"
	"github.com/jrsteele09/go-audit-server/poller"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type RunOptions struct {
	GlobalOptions

	ProjectID string
	Category  string
	Detach    bool
}

func DefaultRunOptions() *RunOptions {
	return &RunOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Category:      string(audit.CategoryAll),
	}
}

func NewCmdRun() *cobra.Command {
	o := DefaultRunOptions()
	cmd := &cobra.Command{
		Use:   "run --project PROJECT [--category CATEGORY]",
		Short: "Start an audit and wait for it to finish.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *RunOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.ProjectID, "project", "p", o.ProjectID, "Cloud project to audit")
	fs.StringVarP(&o.Category, "category", "c", o.Category, "Audit category: storage, compute, network, iam or all")
	fs.BoolVar(&o.Detach, "detach", o.Detach, "Print the job id and return without waiting")
}

func (o *RunOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if o.ProjectID == "" {
		return fmt.Errorf("--project is required")
	}
	if _, err := audit.ParseCategory(o.Category); err != nil {
		return err
	}
	return nil
}

func (o *RunOptions) Run(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	category, _ := audit.ParseCategory(o.Category)
	client := o.Client()

	if o.Detach {
		resp, err := client.Run(ctx, o.ProjectID, category)
		if err != nil {
			return err
		}
		if resp.Immediate() {
			return printJSON(out, resp.Results)
		}
		_, err = fmt.Fprintln(out, resp.JobID)
		return err
	}

	outcome, err := client.RunAndWait(ctx, o.ProjectID, category, func(st poller.Status) {
		_, _ = fmt.Fprintf(out, "%3d%% %s\n", st.Progress, st.CurrentStep)
	})
	if err != nil {
		return err
	}
	if outcome.Status.Status == audit.StatusError {
		return fmt.Errorf("audit %s failed (%s): %s", outcome.JobID, outcome.Status.ErrorType, outcome.Status.Error)
	}
	return printJSON(out, outcome.Results)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
