// Package commands provides the CLI commands for collabtext.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/config"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	cfgFile  string
	envFile  string
	logLevel string
)

var (
	v   = viper.New()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "collabtext",
	Short: "Collaborative document server with streaming AI assistance",
	Long: `collabtext keeps one shared text document in sync across websocket
clients and relays AI chat, edit and commentary streams to them.

Run 'collabtext serve' to start the server.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default ./collabtext.toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (DEBUG|INFO|WARN|ERROR)")
	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.SetVersionTemplate(fmt.Sprintf("collabtext %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})
	return nil
}
