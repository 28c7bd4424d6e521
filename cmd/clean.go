package cmd

import (
	"github.com/spf13/cobra"
	"gloom.dev/pkg/gloom/internal/domain"
)

var staleFlag bool

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [package]",
		Short: "Remove stored checkpoints",
		Long: `Remove every stored checkpoint. With --stale the selected packages are
built first and only checkpoints of other fingerprints are removed.`,
		Args: configArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			packages := []string{"./..."}
			if len(args) == 1 {
				packages = args
			}

			build, err := loadBuildConfig(packages)
			if err != nil {
				return err
			}

			prepare(cmd)

			_, err = workflow.Clean(cmd.Context(), domain.CleanArgs{
				Build: build,
				Stale: staleFlag,
			})

			return err
		},
	}

	cmd.Flags().BoolVar(&staleFlag, staleFlagName, false, "keep the checkpoints of the current build")

	return cmd
}
