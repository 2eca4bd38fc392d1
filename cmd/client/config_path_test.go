package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/InsereNomen/AlderSync/internal/client/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "path to config file")
	return cmd
}

func TestResolveConfigPathFlagBeatsEnv(t *testing.T) {
	cmd := newTestCmd()
	t.Setenv(configPathEnv, "/tmp/env/config.yaml")
	assert.NoError(t, cmd.PersistentFlags().Set("config", "/tmp/flag/config.yaml"))

	assert.Equal(t, "/tmp/flag/config.yaml", resolveConfigPath(cmd))
}

func TestResolveConfigPathUsesEnvWhenNoFlag(t *testing.T) {
	cmd := newTestCmd()
	t.Setenv(configPathEnv, "/tmp/env/config.yaml")

	assert.Equal(t, "/tmp/env/config.yaml", resolveConfigPath(cmd))
}

func TestResolveConfigPathFindsExistingFile(t *testing.T) {
	oldHome := home
	home = t.TempDir()
	t.Cleanup(func() { home = oldHome })
	t.Setenv(configPathEnv, "")

	existing := filepath.Join(home, ".config", "aldersync", "config.yaml")
	assert.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	assert.NoError(t, os.WriteFile(existing, []byte("user: alice\n"), 0o644))

	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		t.Skip("a config already exists at the default path")
	}
	assert.Equal(t, existing, resolveConfigPath(newTestCmd()))
}
