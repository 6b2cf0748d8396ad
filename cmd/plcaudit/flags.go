package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func handleHelpArg(cmd *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return false
	}
	if strings.EqualFold(args[0], "help") {
		_ = cmd.Help()
		return true
	}
	return false
}

func missingFlagError(cmd *cobra.Command, flag string) error {
	_ = cmd.Help()
	return fmt.Errorf("required flag %s not set", flag)
}

// logFlags select the log level; at most one may be set.
type logFlags struct {
	verbose bool
	debug   bool
	quiet   bool
}

func (f *logFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Log every transaction")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Log frames in hex")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Log errors only")
}

// level returns the selected level name, or "" to keep the configured one.
func (f *logFlags) level() (string, error) {
	var set []string
	if f.verbose {
		set = append(set, "verbose")
	}
	if f.debug {
		set = append(set, "debug")
	}
	if f.quiet {
		set = append(set, "error")
	}
	switch len(set) {
	case 0:
		return "", nil
	case 1:
		return set[0], nil
	default:
		return "", fmt.Errorf("--verbose, --debug and --quiet are mutually exclusive")
	}
}

// targetFlags address the controller for the one-shot commands.
type targetFlags struct {
	config string
	ip     string
	port   int
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.config, "config", "", "Config file path (defaults when empty)")
	cmd.Flags().StringVar(&f.ip, "ip", "", "Controller IP address (overrides config)")
	cmd.Flags().IntVar(&f.port, "port", 0, "Controller port (overrides config)")
}
