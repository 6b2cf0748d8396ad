package main

import (
	"github.com/spf13/cobra"

	"github.com/georgelake2/plcaudit/internal/app"
)

type tagFlags struct {
	target  targetFlags
	logging logFlags
	tag     string
	typ     string
	value   string
	copy    bool
}

func (f *tagFlags) options(cmd *cobra.Command) (app.ToolOptions, error) {
	if f.tag == "" {
		return app.ToolOptions{}, missingFlagError(cmd, "--tag")
	}
	level, err := f.logging.level()
	if err != nil {
		return app.ToolOptions{}, err
	}
	return app.ToolOptions{
		ConfigPath: f.target.config,
		IP:         f.target.ip,
		Port:       f.target.port,
		LogLevel:   level,
		Tag:        f.tag,
		Type:       f.typ,
		Value:      f.value,
		Copy:       f.copy,
		Stdout:     cmd.OutOrStdout(),
	}, nil
}

func newReadCmd() *cobra.Command {
	flags := &tagFlags{}
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read one tag",
		Long: `Read a tag by symbolic name and print its value.

Types:
  scalar  - any supported scalar; the reply type is printed
  dint    - DINT, fails on any other type
  lint    - LINT
  real    - REAL
  dint7   - the first seven elements of a DINT array, e.g. a controller clock`,
		Example: `  plcaudit read --ip 10.100.10.185 --tag WDG_Status_Instance.AuditValue --type lint
  plcaudit read --tag WDG_Status_Instance.DateTime --type dint7 --copy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			return app.RunRead(cmd.Context(), opts)
		},
	}
	flags.target.register(cmd)
	flags.logging.register(cmd)
	cmd.Flags().StringVar(&flags.tag, "tag", "", "Tag name (required)")
	cmd.Flags().StringVar(&flags.typ, "type", app.ReadScalar, "Read type: scalar|dint|lint|real|dint7")
	cmd.Flags().BoolVar(&flags.copy, "copy", false, "Copy the value to the clipboard")
	return cmd
}

func newWriteCmd() *cobra.Command {
	flags := &tagFlags{}
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a BOOL or DINT tag",
		Example: `  plcaudit write --tag WDG_Status_Instance.Alarm --type bool --value false
  plcaudit write --tag WDG_Status_Instance.AuthorizedUser --type dint --value 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.value == "" {
				return missingFlagError(cmd, "--value")
			}
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			return app.RunWrite(cmd.Context(), opts)
		},
	}
	flags.target.register(cmd)
	flags.logging.register(cmd)
	cmd.Flags().StringVar(&flags.tag, "tag", "", "Tag name (required)")
	cmd.Flags().StringVar(&flags.typ, "type", "dint", "Value type: bool|dint")
	cmd.Flags().StringVar(&flags.value, "value", "", "Value to write (required)")
	return cmd
}

func newIncrementCmd() *cobra.Command {
	flags := &tagFlags{}
	cmd := &cobra.Command{
		Use:   "increment",
		Short: "Add one to a DINT tag",
		Long: `Read a DINT tag, add one and write it back. The read and the write are
separate requests, so a concurrent writer can be overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			return app.RunIncrement(cmd.Context(), opts)
		},
	}
	flags.target.register(cmd)
	flags.logging.register(cmd)
	cmd.Flags().StringVar(&flags.tag, "tag", "", "Tag name (required)")
	return cmd
}
