package main

import (
	"github.com/spf13/cobra"

	"github.com/georgelake2/plcaudit/internal/app"
)

func newInitCmd() *cobra.Command {
	opts := app.InitOptions{}
	var defaults bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file",
		Long: `Create a configuration file. The interactive wizard asks for the controller,
polling and scenario settings; --defaults writes the defaults unchanged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			opts.Interactive = !defaults
			opts.Stdout = cmd.OutOrStdout()
			return app.RunInit(opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "plcaudit.yaml", "Config file to write")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Write defaults without prompting")
	return cmd
}

func newValidateConfigCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunValidateConfig(cfgPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "plcaudit.yaml", "Config file path")
	return cmd
}

func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <events.csv>",
		Short: "Summarize a recorded event CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunSummarize(args[0], cmd.OutOrStdout())
		},
	}
}
