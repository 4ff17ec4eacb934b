package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/manifold/pkg/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Commands for managing the CLI configuration stored in $HOME/.manifold/config.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configLogrotateCmd = &cobra.Command{
	Use:   "logrotate <server|host>",
	Short: "Print a logrotate configuration for a component",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigLogrotate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configLogrotateCmd)
}

type cliConfig struct {
	ServerURL string `yaml:"server_url"`
	APIKey    string `yaml:"api_key,omitempty"`
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to find home directory: %w", err)
	}

	configDir := filepath.Join(home, ".manifold")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(configDir, "config")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	data, err := yaml.Marshal(cliConfig{ServerURL: GetServerURL(), APIKey: GetAPIKey()})
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	key := GetAPIKey()
	masked := "(not set)"
	if key != "" {
		masked = "****" + key[max(0, len(key)-4):]
	}

	fmt.Printf("server_url: %s\n", GetServerURL())
	fmt.Printf("api_key:    %s\n", masked)
	fmt.Printf("output:     %s\n", outputFormat)
	return nil
}

func runConfigLogrotate(cmd *cobra.Command, args []string) error {
	switch args[0] {
	case "server":
		fmt.Print(logging.GenerateServerLogrotate())
	case "host":
		fmt.Print(logging.GenerateHostLogrotate())
	default:
		return fmt.Errorf("unknown component %q, expected server or host", args[0])
	}
	return nil
}
