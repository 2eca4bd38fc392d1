package main

import (
	"os"
	"path/filepath"

	"github.com/InsereNomen/AlderSync/internal/client/config"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/spf13/cobra"
)

const configPathEnv = "ALDERSYNC_CONFIG_PATH"

// resolveConfigPath picks the config file in this order:
// the --config flag, ALDERSYNC_CONFIG_PATH, an existing file in a known location, the default path.
func resolveConfigPath(cmd *cobra.Command) string {
	if cfgFlag := cmd.Flag("config"); cfgFlag != nil && cfgFlag.Changed {
		return cfgFlag.Value.String()
	}

	if envPath := os.Getenv(configPathEnv); envPath != "" {
		return envPath
	}

	candidates := []string{
		config.DefaultConfigPath,
		filepath.Join(home, ".config", "aldersync", "config.yaml"),
	}
	for _, candidate := range candidates {
		if utils.FileExists(candidate) {
			return candidate
		}
	}

	return config.DefaultConfigPath
}
