// Package cmd provides the root command and CLI setup for gloom.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gloom.dev/pkg/gloom/internal/adapter"
	"gloom.dev/pkg/gloom/internal/controller"
	"gloom.dev/pkg/gloom/internal/domain"
	m "gloom.dev/pkg/gloom/internal/model"
)

// workflow is wired on first use so the store and UI see the parsed flags.
// Tests replace it with a mock before executing a command.
var workflow domain.Workflow
var ui controller.UI

var tagsFlag []string
var checkpointDirFlag string
var plainFlag bool
var verboseFlag bool

const selectionHelp = `Selection:
  gloom run                       every package below the current directory
  gloom run ./queue               one package (anything starting with "." or containing "/")
  gloom run TestPush              tests whose name contains TestPush
  gloom run ./queue TestPush      both
  gloom run -- -test.short        forward everything after "--" to the test binaries`

const rootLongDescription = `Gloom drives the model-checking workflow for Go tests built with the
loom build tag: it builds instrumented test binaries, explores every
selected test, records a checkpoint for each failure and replays the
checkpoint with the checker's diagnostics switched on. Checkpoints are kept
per build fingerprint so unchanged code is replayed without exploring again.

` + selectionHelp

const runLongDescription = `Build, explore, reproduce and replay the selected tests.

` + selectionHelp

const listLongDescription = `Build the selected packages and list their tests without running them.

` + selectionHelp

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gloom",
		Short:         "Go concurrency model-checking workflow",
		Long:          rootLongDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &m.ConfigError{Key: "flags", Err: err}
	})

	configureRootFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newCheckpointsCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringSliceVar(&tagsFlag, tagsFlagName, viper.GetStringSlice(tagsKey), "build tags that enable the model checker")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(tagsFlagName), tagsKey)

	cmd.PersistentFlags().StringVar(&checkpointDirFlag, checkpointDirFlagName, viper.GetString(checkpointDirKey), "directory of the checkpoint store")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(checkpointDirFlagName), checkpointDirKey)

	cmd.PersistentFlags().BoolVar(&plainFlag, plainFlagName, viper.GetBool(plainKey), "plain output even on a terminal")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(plainFlagName), plainKey)

	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", viper.GetBool(logVerboseKey), "debug logging to the log file")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(verboseFlagName), logVerboseKey)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// prepare configures logging and wires the workflow for a command that
// touches the pipeline.
func prepare(cmd *cobra.Command) {
	configureLogger("", viper.GetBool(logVerboseKey))

	if workflow != nil {
		return
	}

	interactive := !viper.GetBool(plainKey) && controller.IsTTY(cmd.OutOrStdout())
	ui = controller.NewUI(cmd, interactive)
	workflow = newWorkflow(ui, viper.GetString(checkpointDirKey), viper.GetString(goBinaryKey))
}

func newWorkflow(ui controller.UI, checkpointDir, goBinary string) domain.Workflow {
	store := adapter.NewCheckpointStore(checkpointDir)

	return domain.NewWorkflow(
		adapter.NewLocalBuildAdapter(goBinary),
		adapter.NewLocalTestBinaryAdapter(),
		store,
		ui,
		domain.NewRunner(ui),
		domain.NewReplayer(store),
	)
}

// selection is the positional part of run and list.
type selection struct {
	packages []string
	filter   string
	testArgs []string
}

// parseSelection splits "[package] [testname] [-- args]". A single argument
// is a package when it starts with "." or contains "/", a test filter
// otherwise.
func parseSelection(cmd *cobra.Command, args []string) (selection, error) {
	positional, passthrough := args, []string(nil)
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		positional, passthrough = args[:dash], args[dash:]
	}

	sel := selection{testArgs: passthrough}

	switch len(positional) {
	case 0:
	case 1:
		if isPackagePattern(positional[0]) {
			sel.packages = []string{positional[0]}
		} else {
			sel.filter = positional[0]
		}
	case 2:
		sel.packages = []string{positional[0]}
		sel.filter = positional[1]
	default:
		return sel, &m.ConfigError{
			Key: "args",
			Err: fmt.Errorf("expected at most [package] [testname], got %d arguments", len(positional)),
		}
	}

	if len(sel.packages) == 0 {
		sel.packages = []string{"./..."}
	}

	return sel, nil
}

// configArgs reports positional argument errors as configuration errors.
func configArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &m.ConfigError{Key: "args", Err: err}
		}

		return nil
	}
}

func isPackagePattern(arg string) bool {
	return strings.HasPrefix(arg, ".") || strings.Contains(arg, "/")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(domain.ExitCode(err))
	}
}
