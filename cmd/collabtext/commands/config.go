package commands

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML",
	Long: `Print the configuration after defaults, the config file, .env and
COLLABTEXT_* environment variables have been applied. The API key is masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.TOML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
