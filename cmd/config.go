package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the gitscan configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("cannot determine home directory: %w", err)
			}
			path = filepath.Join(home, config.DefaultConfigDir, config.DefaultConfigFile)
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}

		cfg, err := config.Load("")
		if err != nil {
			return fmt.Errorf("building default config: %w", err)
		}
		cfg.Batch.Connections = []config.ConnectionConfig{{
			ToolConfigID: "example-github",
			ToolType:     "github",
			RepoURL:      "https://github.com/example/myapp",
			Branch:       "main",
			Token:        "<token>",
		}}

		if err := config.Save(cfg, path); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		// Credentials stay out of terminal output.
		for i := range cfg.Batch.Connections {
			conn := &cfg.Batch.Connections[i]
			if conn.Token != "" {
				conn.Token = "***"
			}
			if conn.Password != "" {
				conn.Password = "***"
			}
		}
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
