package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"gloom.dev/pkg/gloom/internal/domain"
	m "gloom.dev/pkg/gloom/internal/model"
)

var listExactFlag bool

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [package] [testname]",
		Short: "List the tests a run would select",
		Long:  listLongDescription,
		Args:  configArgs(cobra.MaximumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseSelection(cmd, args)
			if err != nil {
				return err
			}

			build, err := loadBuildConfig(sel.packages)
			if err != nil {
				return err
			}

			if listExactFlag && sel.filter == "" {
				return exactWithoutFilterError()
			}

			prepare(cmd)

			_, err = workflow.List(cmd.Context(), domain.ListArgs{
				Build:  build,
				Filter: sel.filter,
				Exact:  listExactFlag,
			})

			return err
		},
	}

	cmd.Flags().BoolVar(&listExactFlag, exactFlagName, false, "match the test name exactly")

	return cmd
}

func exactWithoutFilterError() error {
	return &m.ConfigError{Key: exactFlagName, Err: errors.New("--exact needs a test name")}
}
