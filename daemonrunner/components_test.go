package daemonrunner_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/orchestrator/config"
	"github.com/fleetctl/orchestrator/daemonrunner"
	"github.com/fleetctl/orchestrator/eventbus"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.StorePath = filepath.Join(dir, "orchestrator.db")
	cfg.LockDir = filepath.Join(dir, "locks")
	cfg.EventLogDir = filepath.Join(dir, "logs", "events")
	cfg.RulesDocumentPath = filepath.Join(dir, "rules.md")
	return cfg
}

func TestNew_WiresAllComponents(t *testing.T) {
	cfg := newTestConfig(t)

	c, err := daemonrunner.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Store)
	require.NotNil(t, c.Events)
	require.NotNil(t, c.Messages)
	require.NotNil(t, c.Sessions)
	require.NotNil(t, c.Processes)
	require.NotNil(t, c.Lifecycle)
	require.NotNil(t, c.Queue)
	require.NotNil(t, c.AgentCtx)
	require.NotNil(t, c.Roles)
	require.NotNil(t, c.Analyser)
	require.NotNil(t, c.Emitter)
	require.NotNil(t, c.Extractor)
}

func TestNew_RoleRegistryMatchesConfig(t *testing.T) {
	cfg := newTestConfig(t)

	c, err := daemonrunner.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	names := c.Roles.Names()
	require.Len(t, names, len(cfg.Roles))
}

func TestClose_ClosesStoreAndStopsWatcher(t *testing.T) {
	cfg := newTestConfig(t)

	c, err := daemonrunner.New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestBuildDiagnostics_ReportsEmptyQueueAndNoLocks(t *testing.T) {
	cfg := newTestConfig(t)

	c, err := daemonrunner.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	d, err := c.BuildDiagnostics()
	require.NoError(t, err)
	require.Empty(t, d.LiveSessions)
	require.Nil(t, d.SchedulerLock)
	require.Nil(t, d.QueueLock)
	require.Empty(t, d.RecentEvents)
}

func TestBuildDiagnostics_SurfacesRecentEvents(t *testing.T) {
	cfg := newTestConfig(t)

	c, err := daemonrunner.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Events.Publish(eventbus.ChannelProjectCompleted, eventbus.SeverityInfo, map[string]int64{"project_id": 1}))

	require.Eventually(t, func() bool {
		d, err := c.BuildDiagnostics()
		return err == nil && len(d.RecentEvents) == 1
	}, time.Second, 10*time.Millisecond, "published event should be mirrored into event_log asynchronously")

	d, err := c.BuildDiagnostics()
	require.NoError(t, err)
	require.Equal(t, eventbus.ChannelProjectCompleted, d.RecentEvents[0].Channel)
	require.Equal(t, eventbus.SeverityInfo, d.RecentEvents[0].Severity)
}
