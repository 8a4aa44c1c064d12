package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/kawan/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file with default values to edit by hand.
Refuses to overwrite an existing file.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	path := loader.GetConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	cfg := config.DefaultConfig()
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Configuration written to: %s\n", path)
	fmt.Println("Edit it, then start the gateway with: kawan start")

	return nil
}
