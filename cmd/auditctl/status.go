package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jrsteele09/go-audit-server/poller"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type StatusOptions struct {
	GlobalOptions

	Follow bool
}

func DefaultStatusOptions() *StatusOptions {
	return &StatusOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdStatus() *cobra.Command {
	o := DefaultStatusOptions()
	cmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show the status of an audit job.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *StatusOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.BoolVarP(&o.Follow, "follow", "f", o.Follow, "Keep polling until the job finishes")
}

func (o *StatusOptions) Run(ctx context.Context, out io.Writer, jobID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client := o.Client()

	printStatus := func(st poller.Status) {
		line := fmt.Sprintf("%s %3d%% %s", st.Status, st.Progress, st.CurrentStep)
		if st.Error != "" {
			line += fmt.Sprintf(" [%s] %s", st.ErrorType, st.Error)
		}
		_, _ = fmt.Fprintln(out, line)
	}

	if !o.Follow {
		st, err := client.Status(ctx, jobID)
		if err != nil {
			return err
		}
		printStatus(*st)
		return nil
	}
	_, err := client.Poll(ctx, jobID, printStatus)
	return err
}
