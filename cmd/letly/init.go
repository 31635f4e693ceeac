package main

import (
	"fmt"

	letly "github.com/letly-app/letly-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store a bearer token in ~/.letly/config.toml",
	Long:  "Initialize the Letly CLI by storing the bearer token issued when you logged in to the marketplace.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		claims, err := letly.ParseToken(token)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = token
		cfg.Auth.UserID = claims.UserID
		cfg.Auth.Username = claims.Name

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token for %s saved to %s\n", claims.Name, path)
		return nil
	},
}
