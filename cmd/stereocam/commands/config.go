package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bryanchriswhite/stereocam/internal/logger"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stereocam configuration",
	Long:  `View and manage stereocam configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration, environment overrides included.`,
	Example: `  # Show configuration as YAML (default)
  stereocam config show

  # Show configuration as JSON
  stereocam config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long: `Set a configuration value by its dotted key and save the file.
The whole configuration is validated before it is written.`,
	Example: `  # Use the simulated cameras
  stereocam config set driver simulated

  # Capture 640x480 on the next start
  stereocam config set camera.width 640
  stereocam config set camera.height 480

  # Give the paired read more time
  stereocam config set loop.acquire_timeout 100ms`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a configuration value by its dotted key.`,
	Example: `  # Get the left camera device
  stereocam config get camera.left_device

  # Get the loop rate
  stereocam config get loop.rate_hz`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func printFormatted(format string, v any) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(v)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", format)
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	return printFormatted(formatFlag, configMgr.Get())
}

var validLevels = map[string]bool{
	string(logger.DebugLevel): true,
	string(logger.InfoLevel):  true,
	string(logger.WarnLevel):  true,
	string(logger.ErrorLevel): true,
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	if key == "log_level" && !validLevels[value] {
		return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	// viper decodes the string into the key's type
	if err := configMgr.Set(key, value); err != nil {
		return err
	}

	fmt.Printf("✅ Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	value, ok := configMgr.Lookup(args[0])
	if !ok {
		return fmt.Errorf("configuration key not found: %s", args[0])
	}

	fmt.Println(value)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println(configMgr.GetConfigPath())
	return nil
}
