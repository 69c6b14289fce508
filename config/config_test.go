package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 1800, cfg.MaxProcessRuntimeSec)
	require.Equal(t, 600, cfg.HeartbeatTimeoutSec)
	require.Equal(t, 3, cfg.MaxTimeoutExtensions)
	require.Equal(t, 900, cfg.PhantomGracePeriodSec)
	require.Equal(t, 300, cfg.StateSyncIntervalSec)
	require.False(t, cfg.EmergencyBypass)
	require.False(t, cfg.DisableFastLane)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("HEARTBEAT_TIMEOUT_SEC", "45")
	t.Setenv("EMERGENCY_BYPASS", "true")
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Load()
	require.Equal(t, 45, cfg.HeartbeatTimeoutSec)
	require.True(t, cfg.EmergencyBypass)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := DefaultConfig()
	cfg.MaxAgentRestarts = 7
	require.NoError(t, Save(cfg))

	dir, err := GetConfigDir()
	require.NoError(t, err)
	_, err = os.Stat(dir)
	require.NoError(t, err)

	reloaded := Load()
	require.Equal(t, 7, reloaded.MaxAgentRestarts)
}
