package config_test

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"chainkernel/internal/testutil"
	"chainkernel/pkg/config"
)

func chdirBack(t *testing.T, wd string) {
	t.Helper()
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaultsWithNoConfigFile(t *testing.T) {
	sb, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sb.Cleanup()

	wd, err := os.Getwd()
	require.NoError(t, err)
	chdirBack(t, wd)
	viper.Reset()
	require.NoError(t, os.Chdir(sb.Root))

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "./data", cfg.Store.Path)
	require.Equal(t, int64(1), cfg.Engine.StartingDifficulty)
	require.Equal(t, int64(6), cfg.Engine.ConfirmationDepth)
}

func TestLoadReadsConfigFileFromSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sb.Cleanup()

	require.NoError(t, os.Mkdir(sb.Path("config"), 0700))
	data := []byte("store:\n  path: /var/lib/chainkernel\nengine:\n  starting_difficulty: 4\n  confirmation_depth: 2\n")
	require.NoError(t, sb.WriteFile("config/default.yaml", data, 0600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	chdirBack(t, wd)
	viper.Reset()
	require.NoError(t, os.Chdir(sb.Root))

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "/var/lib/chainkernel", cfg.Store.Path)
	require.Equal(t, int64(4), cfg.Engine.StartingDifficulty)
	require.Equal(t, int64(2), cfg.Engine.ConfirmationDepth)
}

func TestLoadMergesEnvOverrideFile(t *testing.T) {
	sb, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sb.Cleanup()

	require.NoError(t, os.Mkdir(sb.Path("config"), 0700))
	require.NoError(t, sb.WriteFile("config/default.yaml", []byte("engine:\n  starting_difficulty: 1\n"), 0600))
	require.NoError(t, sb.WriteFile("config/staging.yaml", []byte("engine:\n  starting_difficulty: 8\n"), 0600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	chdirBack(t, wd)
	viper.Reset()
	require.NoError(t, os.Chdir(sb.Root))

	cfg, err := config.Load("staging")
	require.NoError(t, err)
	require.Equal(t, int64(8), cfg.Engine.StartingDifficulty)
}

func TestLoadAppliesEngineEnvOverrides(t *testing.T) {
	sb, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sb.Cleanup()

	require.NoError(t, os.Mkdir(sb.Path("config"), 0700))
	require.NoError(t, sb.WriteFile("config/default.yaml", []byte("engine:\n  starting_difficulty: 1\n  confirmation_depth: 6\n"), 0600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	chdirBack(t, wd)
	viper.Reset()
	require.NoError(t, os.Chdir(sb.Root))

	require.NoError(t, os.Setenv("CHAINKERNEL_ENGINE_STARTING_DIFFICULTY", "12"))
	t.Cleanup(func() { _ = os.Unsetenv("CHAINKERNEL_ENGINE_STARTING_DIFFICULTY") })

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, int64(12), cfg.Engine.StartingDifficulty)
	require.Equal(t, int64(6), cfg.Engine.ConfirmationDepth)
}
