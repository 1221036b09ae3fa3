package cmd

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrelworks/conductor/internal/config"
)

// Styles for command output headings, shared by sessions and stats.
var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	ruleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4B5563"))
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Coding-agent session scheduler",
	Long: `Conductor schedules long-running coding-agent sessions under a bounded
concurrency budget: admission control with a priority wait queue,
dependency-aware ordering with deadlock detection, and a persisted
session state machine with automatic recovery of stuck sessions.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/conductor/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
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
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CONDUCTOR")
	// CONDUCTOR_SCHEDULER_MAX_CONCURRENT maps to scheduler.max_concurrent
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
