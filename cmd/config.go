package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	m "gloom.dev/pkg/gloom/internal/model"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "gloom"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	maxBranchesFlagName        = "max-branches"
	maxPermutationsFlagName    = "max-permutations"
	maxThreadsFlagName         = "max-threads"
	checkpointIntervalFlagName = "checkpoint-interval"
	maxDurationFlagName        = "max-duration-secs"
	loomLogFlagName            = "loom-log"
	locationFlagName           = "location"
	testTimeoutFlagName        = "test-timeout"
	parallelFlagName           = "parallel"
	tagsFlagName               = "tags"
	exactFlagName              = "exact"
	noCacheFlagName            = "no-cache"
	checkpointDirFlagName      = "checkpoint-dir"
	plainFlagName              = "plain"
	verboseFlagName            = "verbose"
	staleFlagName              = "stale"

	maxBranchesKey        = "checker.max_branches"
	maxPermutationsKey    = "checker.max_permutations"
	maxThreadsKey         = "checker.max_threads"
	checkpointIntervalKey = "checker.checkpoint_interval"
	maxDurationKey        = "checker.max_duration_secs"
	loomLogKey            = "checker.log"
	locationKey           = "checker.location"
	testTimeoutKey        = "run.test_timeout"
	parallelKey           = "run.parallel"
	noCacheKey            = "run.no_cache"
	spillDirKey           = "run.spill_dir"
	tagsKey               = "build.tags"
	goBinaryKey           = "build.go"
	binDirKey             = "build.bin_dir"
	checkpointDirKey      = "store.checkpoint_dir"
	plainKey              = "ui.plain"

	defaultBinDir        = ".gloom/bin"
	defaultCheckpointDir = ".gloom/checkpoint"
	defaultGoBinary      = "go"

	envPrefix = "GLOOM"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".gloom.log"
	defaultLogLevel      = int(slog.LevelInfo)
	defaultLogVerbose    = false
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

// envBindings maps config keys to the environment variables that set them.
// The checker variables keep their own names so a shell configured for the
// checker configures gloom the same way.
var envBindings = map[string]string{
	maxBranchesKey:        m.EnvMaxBranches,
	maxPermutationsKey:    m.EnvMaxPermutations,
	maxThreadsKey:         m.EnvMaxThreads,
	checkpointIntervalKey: m.EnvCheckpointInterval,
	maxDurationKey:        m.EnvMaxDuration,
	loomLogKey:            m.EnvLog,
	locationKey:           m.EnvLocation,
	testTimeoutKey:        envPrefix + "_TEST_TIMEOUT",
	parallelKey:           envPrefix + "_PARALLEL",
	noCacheKey:            envPrefix + "_NO_CACHE",
	tagsKey:               envPrefix + "_TAGS",
	checkpointDirKey:      envPrefix + "_CHECKPOINT_DIR",
	plainKey:              envPrefix + "_PLAIN",
}

var globalLogger *slog.Logger

// configFileErr holds a config file that exists but could not be read; it is
// reported by the first command that loads settings.
var configFileErr error

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	for key, env := range envBindings {
		cobra.CheckErr(viper.BindEnv(key, env))
	}

	defaults := m.DefaultExecutionConfig()

	viper.SetDefault(configVersionKey, currentConfigVersion)
	viper.SetDefault(maxBranchesKey, defaults.MaxBranches)
	viper.SetDefault(maxPermutationsKey, defaults.MaxPermutations)
	viper.SetDefault(maxThreadsKey, defaults.MaxThreads)
	viper.SetDefault(checkpointIntervalKey, defaults.CheckpointInterval)
	viper.SetDefault(maxDurationKey, int64(defaults.MaxDuration/time.Second))
	viper.SetDefault(loomLogKey, defaults.LogFilter)
	viper.SetDefault(locationKey, defaults.Location)
	viper.SetDefault(testTimeoutKey, defaults.TestTimeout.String())
	viper.SetDefault(parallelKey, defaults.Parallel)
	viper.SetDefault(noCacheKey, defaults.NoCache)
	viper.SetDefault(spillDirKey, "")
	viper.SetDefault(tagsKey, []string{m.DefaultBuildTag})
	viper.SetDefault(goBinaryKey, defaultGoBinary)
	viper.SetDefault(binDirKey, defaultBinDir)
	viper.SetDefault(checkpointDirKey, defaultCheckpointDir)
	viper.SetDefault(plainKey, false)

	// Logging defaults (used by config/env and as fallbacks for flags).
	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, defaultLogLevel)
	viper.SetDefault(logVerboseKey, defaultLogVerbose)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return
		}

		configFileErr = &m.ConfigError{Key: configFileName, Err: err}
	}
}

// loadExecutionConfig snapshots flags, environment, config file and defaults
// into one ExecutionConfig. testArgs are forwarded verbatim to every test
// binary.
func loadExecutionConfig(testArgs []string) (m.ExecutionConfig, error) {
	cfg := m.DefaultExecutionConfig()

	var err error

	if cfg.MaxBranches, err = intSetting(maxBranchesKey); err != nil {
		return cfg, err
	}

	if cfg.MaxPermutations, err = intSetting(maxPermutationsKey); err != nil {
		return cfg, err
	}

	if cfg.MaxThreads, err = intSetting(maxThreadsKey); err != nil {
		return cfg, err
	}

	if cfg.CheckpointInterval, err = intSetting(checkpointIntervalKey); err != nil {
		return cfg, err
	}

	if cfg.Parallel, err = intSetting(parallelKey); err != nil {
		return cfg, err
	}

	seconds, err := intSetting(maxDurationKey)
	if err != nil {
		return cfg, err
	}

	cfg.MaxDuration = time.Duration(seconds) * time.Second

	if cfg.TestTimeout, err = durationSetting(testTimeoutKey); err != nil {
		return cfg, err
	}

	if cfg.Location, err = boolSetting(locationKey); err != nil {
		return cfg, err
	}

	if cfg.NoCache, err = boolSetting(noCacheKey); err != nil {
		return cfg, err
	}

	cfg.LogFilter = strings.TrimSpace(viper.GetString(loomLogKey))
	cfg.TestArgs = append([]string(nil), testArgs...)

	return cfg, validateExecutionConfig(cfg)
}

// validateExecutionConfig rejects values the checker cannot run with and
// combinations that contradict each other.
func validateExecutionConfig(cfg m.ExecutionConfig) error {
	checks := []struct {
		key string
		ok  bool
		msg string
	}{
		{maxBranchesKey, cfg.MaxBranches > 0, "must be positive"},
		{maxPermutationsKey, cfg.MaxPermutations >= 0, "must not be negative"},
		{maxThreadsKey, cfg.MaxThreads > 0, "must be positive"},
		{checkpointIntervalKey, cfg.CheckpointInterval > 0, "must be positive"},
		{maxDurationKey, cfg.MaxDuration >= 0, "must not be negative"},
		{parallelKey, cfg.Parallel > 0, "must be positive"},
		{testTimeoutKey, cfg.TestTimeout > 0, "must be positive"},
		{loomLogKey, cfg.LogFilter != "", "must not be empty"},
		{
			maxDurationKey,
			cfg.MaxDuration < cfg.TestTimeout,
			fmt.Sprintf("must be shorter than %s (%s)", testTimeoutKey, cfg.TestTimeout),
		},
	}

	for _, check := range checks {
		if !check.ok {
			return &m.ConfigError{Key: check.key, Err: errors.New(check.msg)}
		}
	}

	return nil
}

// loadBuildConfig snapshots the settings that shape the test binaries.
func loadBuildConfig(packages []string) (m.BuildConfig, error) {
	if configFileErr != nil {
		return m.BuildConfig{}, configFileErr
	}

	tags := stringListSetting(tagsKey)
	if len(tags) == 0 {
		return m.BuildConfig{}, &m.ConfigError{Key: tagsKey, Err: errors.New("at least one build tag is required")}
	}

	binDir, err := filepath.Abs(viper.GetString(binDirKey))
	if err != nil {
		return m.BuildConfig{}, &m.ConfigError{Key: binDirKey, Err: err}
	}

	return m.BuildConfig{
		Packages: packages,
		Tags:     tags,
		OutDir:   m.Path(binDir),
	}, nil
}

func intSetting(key string) (int, error) {
	value, err := cast.ToIntE(viper.Get(key))
	if err != nil {
		return 0, &m.ConfigError{Key: key, Err: err}
	}

	return value, nil
}

func boolSetting(key string) (bool, error) {
	value, err := cast.ToBoolE(viper.Get(key))
	if err != nil {
		return false, &m.ConfigError{Key: key, Err: err}
	}

	return value, nil
}

func durationSetting(key string) (time.Duration, error) {
	value, err := cast.ToDurationE(viper.Get(key))
	if err != nil {
		return 0, &m.ConfigError{Key: key, Err: err}
	}

	return value, nil
}

// stringListSetting accepts both yaml lists and comma separated strings.
func stringListSetting(key string) []string {
	var values []string

	for _, value := range viper.GetStringSlice(key) {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
	}

	return values
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger configures the global slog logger.
//
// By default it logs at Info; if verbose is true it logs at Debug.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	var logLevel slog.Level
	if verbose {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}
