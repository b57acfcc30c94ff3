package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	root := NewRootCommand()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"plan", "history", "conflicts", "recovery", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("db"))
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	root := NewRootCommand()
	missing := filepath.Join(t.TempDir(), "none.yaml")
	require.NoError(t, root.ParseFlags([]string{
		"--config", missing, "--db", "/tmp/custom.db", "--log-level", "debug",
	}))

	cfg, err := loadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.Knowledge.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
}
