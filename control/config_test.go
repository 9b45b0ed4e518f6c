package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 32, cfg.Scan.BatchSize)
	assert.Equal(t, time.Millisecond, cfg.Timer.Resolution)
	assert.Equal(t, 4096, cfg.Timer.MaxPerOwner)
	assert.False(t, cfg.Queue.CheckInvariants)
	assert.Equal(t, 128, cfg.Reactor.MaxEvents)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "kq", cfg.Metrics.Namespace)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scan:
  batch_size: 8
timer:
  resolution: 5ms
metrics:
  enabled: true
`), 0o644))
	t.Setenv("KQ_TIMER_MAX_PER_OWNER", "16")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Scan.BatchSize)
	assert.Equal(t, 5*time.Millisecond, cfg.Timer.Resolution)
	assert.Equal(t, 16, cfg.Timer.MaxPerOwner)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 128, cfg.Reactor.MaxEvents, "unset keys keep defaults")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	t.Setenv("KQ_SCAN_BATCH_SIZE", "0")
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "batch_size")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timer.Resolution = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Timer.MaxPerOwner = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Reactor.MaxEvents = 0
	assert.Error(t, cfg.Validate())
}

func TestConfigStoreReload(t *testing.T) {
	cs := DefaultConfig().Store()
	assert.Equal(t, 32, cs.Int(KeyScanBatchSize, 0))
	assert.Equal(t, 7, cs.Int("missing", 7))

	var got map[string]any
	cs.OnReload(func(snap map[string]any) { got = snap })
	cs.SetConfig(map[string]any{KeyScanBatchSize: 4, "extra": "x"})

	require.NotNil(t, got, "listeners run synchronously")
	assert.Equal(t, 4, got[KeyScanBatchSize])
	assert.Equal(t, false, got[KeyCheckInvariants])
	assert.Equal(t, "x", got["extra"])

	got["extra"] = "mutated"
	assert.Equal(t, "x", cs.GetSnapshot()["extra"], "snapshots are copies")
}

func TestConfigStoreListenersRunInOrder(t *testing.T) {
	cs := NewConfigStore()
	var calls []string
	cs.OnReload(func(map[string]any) {
		calls = append(calls, "first")
		cs.OnReload(func(map[string]any) { calls = append(calls, "late") })
	})
	cs.OnReload(func(map[string]any) { calls = append(calls, "second") })

	cs.SetConfig(map[string]any{"a": 1})
	assert.Equal(t, []string{"first", "second"}, calls, "listeners added during a reload wait for the next one")

	calls = nil
	cs.SetConfig(map[string]any{"a": 2})
	assert.Equal(t, []string{"first", "second", "late"}, calls)
}
