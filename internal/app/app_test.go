package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-sorrydb/internal/adapter/store"
	"github.com/arturoeanton/go-sorrydb/pkg/config"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		StoreBackend: "json",
		DatabaseFile: filepath.Join(dir, "db.json"),
		LeanData:     dir,
	}

	_, err := New(cfg, false)
	assert.Error(t, err, "missing database without create")

	a, err := New(cfg, true)
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &store.JSONStore{}, a.Store)
	assert.Equal(t, []string{"norm_num", "rfl", "simp", "tactic"}, a.Engine.AvailableStrategies())
	assert.NotNil(t, a.ProofRunner(dir))
}

func TestSetupLogging(t *testing.T) {
	file := filepath.Join(t.TempDir(), "log.txt")
	c, err := SetupLogging("debug", "json", file)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = SetupLogging("loud", "text", "")
	assert.Error(t, err)
	_, err = SetupLogging("info", "xml", "")
	assert.Error(t, err)

	c, err = SetupLogging("warn", "", "")
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
