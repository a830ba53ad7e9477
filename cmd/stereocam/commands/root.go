package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/stereocam/internal/config"
	"github.com/bryanchriswhite/stereocam/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "stereocam",
		Short: "stereocam - stereo camera acquisition node",
		Long: `stereocam owns a left/right pair of video4linux cameras, captures
synchronized frame pairs and republishes them to any number of subscribers.

Features:
  • Paired left/right capture with bounded waits
  • Runtime activation and reconfiguration over HTTP
  • Left, right and stereo image streams over websocket
  • Simulated cameras for running without hardware
  • Persistent configuration with environment overrides`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/stereocam/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("host", "localhost", "node address used by client commands")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	// client commands stay quiet; serve switches to the configured level
	level := viper.GetString("log_level")
	if level == "" {
		level = string(logger.WarnLevel)
	}
	logger.Init(level, true)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file and applies the global flag overrides
// for this process only
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if port := viper.GetInt("server_port"); port > 0 {
		if err := configMgr.Override("server_port", port); err != nil {
			return nil, err
		}
	}
	if level := viper.GetString("log_level"); level != "" {
		if err := configMgr.Override("log_level", level); err != nil {
			return nil, err
		}
	}
	return configMgr, nil
}
