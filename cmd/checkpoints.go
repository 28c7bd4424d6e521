package cmd

import (
	"github.com/spf13/cobra"
)

func newCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "List stored checkpoints",
		Long: `List every checkpoint in the store with the fingerprint of the build it
was recorded against.`,
		Args: configArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			prepare(cmd)

			_, err := workflow.Checkpoints(cmd.Context())

			return err
		},
	}
}
