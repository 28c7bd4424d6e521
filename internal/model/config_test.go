package model

import (
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func renderEnv(env []string) []byte {
	return []byte(strings.Join(env, "\n") + "\n")
}

func TestExecutionConfig_Env(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	cfg := DefaultExecutionConfig()
	cfg.MaxPermutations = 50
	cfg.MaxDuration = 30 * time.Second

	g.Assert(t, "env_explore", renderEnv(cfg.Env(ModeExplore)))
	g.Assert(t, "env_reproduce", renderEnv(cfg.Env(ModeReproduce)))
	g.Assert(t, "env_replay", renderEnv(cfg.Env(ModeReplay)))
}

func TestExecutionConfig_EnvOmitsUnsetBounds(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	g.Assert(t, "env_explore_defaults", renderEnv(DefaultExecutionConfig().Env(ModeExplore)))

	cfg := DefaultExecutionConfig()
	cfg.Location = false
	cfg.LogFilter = "debug"

	g.Assert(t, "env_replay_no_location", renderEnv(cfg.Env(ModeReplay)))
}

func TestExecutionConfig_Tuning(t *testing.T) {
	cfg := DefaultExecutionConfig()
	cfg.MaxPermutations = 9
	cfg.MaxDuration = time.Minute
	cfg.LogFilter = "debug"

	assert.Equal(t, Tuning{MaxBranches: 1000, MaxPermutations: 9, MaxThreads: 4}, cfg.Tuning())
}
