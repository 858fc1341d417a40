package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	command := NewAuditCtlCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewAuditCtlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auditctl [command]",
		Short: "auditctl runs cloud audits against the audit server and follows their progress.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(NewCmdRun())
	cmd.AddCommand(NewCmdStatus())
	return cmd
}
