package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/resource/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "resource-service",
	Short: "Resource management service",
	Long:  `A service that manages metering and connection point resources and publishes their changes to Azure Service Bus`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
}

func initConfig() {
	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
	}
}

// loadConfig reads the configuration and applies its logging settings.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return config.Config{}, err
	}
	configureLogging(cfg.Environment, cfg.Logging)
	return cfg, nil
}

// configureLogging keeps the console writer in development and switches to
// JSON elsewhere unless the format says otherwise.
func configureLogging(environment string, cfg config.LoggingConfig) {
	if environment != "development" && !strings.EqualFold(cfg.Format, "console") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if cfg.Level == "" {
		return
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, keeping current level")
		return
	}
	zerolog.SetGlobalLevel(level)
}
