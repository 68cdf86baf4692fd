package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func writeConfig(t *testing.T, path string, cfg Config) {
	t.Helper()
	require.NoError(t, cfg.Save(path))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	initial := DefaultConfig()
	writeConfig(t, path, initial)

	loaded, err := Load(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, loaded, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	updated := DefaultConfig()
	p := updated.Presets["default"]
	p.Iterative.MaxRounds = 9
	updated.Presets["default"] = p
	writeConfig(t, path, updated)

	select {
	case c := <-reloaded:
		assert.Equal(t, 9, c.Presets["default"].Iterative.MaxRounds)
		assert.Equal(t, 9, w.Current().Presets["default"].Iterative.MaxRounds)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcherKeepsLastGoodConfigOnInvalidWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, DefaultConfig())

	loaded, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, loaded, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// An invalid rewrite must be rejected; the last good config stays.
	require.NoError(t, writeRaw(path, "presets: {default: {council: []}}"))

	ok := waitFor(t, 2*time.Second, func() bool {
		return w.Current() != nil && len(w.Current().Presets["default"].Council) > 0
	})
	assert.True(t, ok, "invalid reload must not replace the active config")
}

func TestWatcherStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, DefaultConfig())

	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}
