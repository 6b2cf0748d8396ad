package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "plcaudit",
		Short: "Audit and PID change monitor for Logix controllers",
		Long: `plcaudit polls an audit counter, an authorization flag and three PID gains
on a Logix controller over EtherNet/IP and classifies every change as
authorized or unauthorized. It reconnects on persistent communication loss.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newReadCmd())
	rootCmd.AddCommand(newWriteCmd())
	rootCmd.AddCommand(newIncrementCmd())
	rootCmd.AddCommand(newEmulateCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newValidateConfigCmd())
	rootCmd.AddCommand(newSummarizeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd.HasParent() {
			fmt.Fprint(cmd.OutOrStdout(), cmd.UsageString())
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Usage:\n  %s <command> [options]\n\n", cmd.Name())
		fmt.Fprintf(cmd.OutOrStdout(), "Available Commands:\n")
		for _, subCmd := range cmd.Commands() {
			if !subCmd.Hidden {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %s\n", subCmd.Name(), subCmd.Short)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nUse \"%s help <command>\" for more information about a command.\n", cmd.Name())
	})
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
