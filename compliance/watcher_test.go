package compliance_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/orchestrator/compliance"
	"github.com/fleetctl/orchestrator/store"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	path := filepath.Join(t.TempDir(), "rules.md")
	require.NoError(t, os.WriteFile(path, []byte("## Security\n- [SEC-001] critical: one\n"), 0644))

	ext := compliance.NewExtractor(st, path)
	_, err = ext.Run()
	require.NoError(t, err)

	var reloads int32
	w, err := compliance.NewWatcher(ext, path, 30*time.Millisecond, func(generation int) {
		atomic.AddInt32(&reloads, 1)
	})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("## Security\n- [SEC-001] critical: one\n- [SEC-002] warning: two\n"), 0644))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&reloads) >= 1
	}, 2*time.Second, 20*time.Millisecond)

	rules, err := st.ListRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
}

func TestWatcher_DebouncesBurstIntoSingleReload(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	path := filepath.Join(t.TempDir(), "rules.md")
	require.NoError(t, os.WriteFile(path, []byte("## Security\n- [SEC-001] critical: one\n"), 0644))

	ext := compliance.NewExtractor(st, path)

	var reloads int32
	w, err := compliance.NewWatcher(ext, path, 150*time.Millisecond, func(generation int) {
		atomic.AddInt32(&reloads, 1)
	})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("## Security\n- [SEC-001] critical: one\n"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(400 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&reloads))
}

func TestWatcher_Stop_ReleasesCleanly(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	path := filepath.Join(t.TempDir(), "rules.md")
	require.NoError(t, os.WriteFile(path, []byte("## Security\n- [SEC-001] critical: one\n"), 0644))

	ext := compliance.NewExtractor(st, path)
	w, err := compliance.NewWatcher(ext, path, 10*time.Millisecond, nil)
	require.NoError(t, err)
	w.Start()
	require.NoError(t, w.Stop())
}
