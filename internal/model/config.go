package model

import (
	"strconv"
	"time"
)

// Environment variables understood by the model checker linked into a test
// binary.
const (
	EnvMaxBranches        = "LOOM_MAX_BRANCHES"
	EnvMaxPermutations    = "LOOM_MAX_PERMUTATIONS"
	EnvMaxThreads         = "LOOM_MAX_THREADS"
	EnvMaxDuration        = "LOOM_MAX_DURATION"
	EnvCheckpointInterval = "LOOM_CHECKPOINT_INTERVAL"
	EnvCheckpointFile     = "LOOM_CHECKPOINT_FILE"
	EnvLog                = "LOOM_LOG"
	EnvLocation           = "LOOM_LOCATION"
)

// Built-in defaults for ExecutionConfig.
const (
	DefaultMaxBranches        = 1000
	DefaultMaxThreads         = 4
	DefaultCheckpointInterval = 5
	DefaultLogFilter          = "trace"
	DefaultTestTimeout        = 10 * time.Minute
	DefaultParallel           = 1
)

// Mode selects how the checker is configured for a child process.
type Mode int

const (
	// ModeExplore runs the exhaustive search with logging disabled.
	ModeExplore Mode = iota
	// ModeReproduce re-runs a failing test so the checker writes a checkpoint.
	ModeReproduce
	// ModeReplay replays a checkpoint with diagnostics enabled.
	ModeReplay
)

// ExecutionConfig is the merged set of tunables for one invocation. It is
// built once from defaults, environment and flags and then passed by value.
type ExecutionConfig struct {
	MaxBranches        int
	MaxPermutations    int
	MaxThreads         int
	CheckpointInterval int
	// MaxDuration bounds the checker's own exploration time. It only applies
	// to ModeExplore so replays with logging are not cut short.
	MaxDuration time.Duration
	// TestTimeout is the hard wall-clock limit for every child process.
	TestTimeout time.Duration
	LogFilter   string
	Location    bool
	Parallel    int
	NoCache     bool
	TestArgs    []string
}

// DefaultExecutionConfig returns the built-in defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		MaxBranches:        DefaultMaxBranches,
		MaxThreads:         DefaultMaxThreads,
		CheckpointInterval: DefaultCheckpointInterval,
		TestTimeout:        DefaultTestTimeout,
		LogFilter:          DefaultLogFilter,
		Location:           true,
		Parallel:           DefaultParallel,
	}
}

// Tuning holds the parameters that shape which failing path the checker
// finds first. They are recorded with each checkpoint instead of being part
// of the artifact fingerprint.
type Tuning struct {
	MaxBranches     int `yaml:"max_branches"`
	MaxPermutations int `yaml:"max_permutations"`
	MaxThreads      int `yaml:"max_threads"`
}

// Tuning returns the exploration-shaping subset of the config.
func (c ExecutionConfig) Tuning() Tuning {
	return Tuning{
		MaxBranches:     c.MaxBranches,
		MaxPermutations: c.MaxPermutations,
		MaxThreads:      c.MaxThreads,
	}
}

// Env renders the checker environment for the given mode. The result is
// appended to the parent environment by the process runner.
func (c ExecutionConfig) Env(mode Mode) []string {
	env := []string{
		EnvMaxBranches + "=" + strconv.Itoa(c.MaxBranches),
		EnvMaxThreads + "=" + strconv.Itoa(c.MaxThreads),
	}

	if c.MaxPermutations > 0 {
		env = append(env, EnvMaxPermutations+"="+strconv.Itoa(c.MaxPermutations))
	}

	switch mode {
	case ModeExplore:
		env = append(env, EnvLog+"=off")
		if c.MaxDuration > 0 {
			env = append(env, EnvMaxDuration+"="+strconv.FormatInt(int64(c.MaxDuration/time.Second), 10))
		}
	case ModeReproduce:
		env = append(env,
			EnvLog+"=off",
			EnvCheckpointInterval+"="+strconv.Itoa(c.CheckpointInterval),
		)
	case ModeReplay:
		env = append(env, EnvLog+"="+c.LogFilter)
		if c.Location {
			env = append(env, EnvLocation+"=1")
		}
	}

	return env
}
