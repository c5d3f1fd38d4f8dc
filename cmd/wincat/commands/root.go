package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/wincat/internal/config"
	"github.com/bryanchriswhite/wincat/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "wincat",
		Short: "wincat - script-driven window capture",
		Long: `wincat captures one window per source and streams it as MJPEG.

Each source runs a Lua selector script against the current list of
processes and windows whenever a window appears or disappears, and
captures whatever window the script picks.

Features:
  • Window create/destroy notifications (Win32 WinEvent hooks, X11)
  • Per-window capture with cursor overlay (X11 composite)
  • Lua selector scripts, reloaded live from the config file
  • REST API, event websocket and MJPEG preview streams`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := viper.GetString("log_level")
			if level == "" {
				level = "warn"
			}
			logger.InitWriter(level, true, os.Stderr)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/wincat/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
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

func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return configMgr, nil
}
