package cmd

import (
	"strings"

	"github.com/Iron-Ham/corral/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "corral",
	Short: "Session registry and process lifecycle manager",
	Long: `Corral spawns interactive agent processes in pseudo-terminals and
tracks them in a durable registry shared across independent corral
processes, so sessions started in one terminal are visible, listable,
and stoppable from any other.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/corral/config.yaml)")
	rootCmd.PersistentFlags().String("state-dir", "", "state directory holding the registry and logs")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("paths.state_dir", rootCmd.PersistentFlags().Lookup("state-dir"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/corral")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CORRAL")
	// Replace dots with underscores for nested keys in env vars
	// e.g., CORRAL_SESSION_GRACEFUL_TIMEOUT_SECONDS for session.graceful_timeout_seconds
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
