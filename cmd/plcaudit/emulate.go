package main

import (
	"github.com/spf13/cobra"

	"github.com/georgelake2/plcaudit/internal/app"
)

func newEmulateCmd() *cobra.Command {
	var (
		opts    app.EmulatorOptions
		logging logFlags
	)
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Run a controller emulator",
		Long: `Serve EtherNet/IP Read Tag and Write Tag requests from the tag table in the
emulator section of the config file. Without a config file the emulator
serves the default monitored layout.

Fault injection drops or closes the connection on every Nth SendRRData
reply, which exercises the monitor's failure and reconnect handling.`,
		Example: `  plcaudit emulate
  plcaudit emulate --listen 0.0.0.0:44818 --config plcaudit.yaml
  plcaudit emulate --drop-every 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			level, err := logging.level()
			if err != nil {
				return err
			}
			opts.LogLevel = level
			return app.RunEmulator(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Config file path (defaults when empty)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "Listen address (default \"127.0.0.1:44818\")")
	cmd.Flags().IntVar(&opts.DropEveryN, "drop-every", 0, "Silently drop every Nth reply")
	cmd.Flags().IntVar(&opts.CloseEveryN, "close-every", 0, "Close the connection instead of every Nth reply")
	logging.register(cmd)
	return cmd
}
