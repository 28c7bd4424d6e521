package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gloom.dev/pkg/gloom/internal/domain"
)

var maxBranchesFlag int
var maxPermutationsFlag int
var maxThreadsFlag int
var checkpointIntervalFlag int
var maxDurationFlag int
var loomLogFlag string
var locationFlag bool
var testTimeoutFlag time.Duration
var parallelFlag int
var noCacheFlag bool
var runExactFlag bool

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [package] [testname] [-- test-binary-args...]",
		Short: "Run the model-checking workflow",
		Long:  runLongDescription,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := parseSelection(cmd, args)
			if err != nil {
				return err
			}

			cfg, err := loadExecutionConfig(sel.testArgs)
			if err != nil {
				return err
			}

			build, err := loadBuildConfig(sel.packages)
			if err != nil {
				return err
			}

			if runExactFlag && sel.filter == "" {
				return exactWithoutFilterError()
			}

			prepare(cmd)

			_, err = workflow.Run(cmd.Context(), domain.RunArgs{
				Build:    build,
				Filter:   sel.filter,
				Exact:    runExactFlag,
				Config:   cfg,
				SpillDir: viper.GetString(spillDirKey),
			})

			return err
		},
	}

	configureRunFlags(cmd)

	return cmd
}

func configureRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.IntVar(&maxBranchesFlag, maxBranchesFlagName, viper.GetInt(maxBranchesKey), "maximum branches the checker explores per execution")
	bindFlagToConfig(flags.Lookup(maxBranchesFlagName), maxBranchesKey)

	flags.IntVar(&maxPermutationsFlag, maxPermutationsFlagName, viper.GetInt(maxPermutationsKey), "maximum permutations to explore (0 means unbounded)")
	bindFlagToConfig(flags.Lookup(maxPermutationsFlagName), maxPermutationsKey)

	flags.IntVar(&maxThreadsFlag, maxThreadsFlagName, viper.GetInt(maxThreadsKey), "maximum concurrent threads in a model")
	bindFlagToConfig(flags.Lookup(maxThreadsFlagName), maxThreadsKey)

	flags.IntVar(&checkpointIntervalFlag, checkpointIntervalFlagName, viper.GetInt(checkpointIntervalKey), "iterations between checkpoint writes")
	bindFlagToConfig(flags.Lookup(checkpointIntervalFlagName), checkpointIntervalKey)

	flags.IntVar(&maxDurationFlag, maxDurationFlagName, viper.GetInt(maxDurationKey), "seconds the checker may spend exploring one test (0 means unbounded)")
	bindFlagToConfig(flags.Lookup(maxDurationFlagName), maxDurationKey)

	flags.StringVar(&loomLogFlag, loomLogFlagName, viper.GetString(loomLogKey), "checker log filter used when replaying")
	bindFlagToConfig(flags.Lookup(loomLogFlagName), loomLogKey)

	flags.BoolVar(&locationFlag, locationFlagName, viper.GetBool(locationKey), "track source locations when replaying")
	bindFlagToConfig(flags.Lookup(locationFlagName), locationKey)

	flags.DurationVar(&testTimeoutFlag, testTimeoutFlagName, viper.GetDuration(testTimeoutKey), "wall-clock limit for one test binary execution")
	bindFlagToConfig(flags.Lookup(testTimeoutFlagName), testTimeoutKey)

	flags.IntVarP(&parallelFlag, parallelFlagName, "p", viper.GetInt(parallelKey), "number of tests executed in parallel")
	bindFlagToConfig(flags.Lookup(parallelFlagName), parallelKey)

	flags.BoolVar(&noCacheFlag, noCacheFlagName, viper.GetBool(noCacheKey), "ignore stored checkpoints and explore every test")
	bindFlagToConfig(flags.Lookup(noCacheFlagName), noCacheKey)

	flags.BoolVar(&runExactFlag, exactFlagName, false, "match the test name exactly")
}
