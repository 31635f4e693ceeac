package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the logged-in identity and chat service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			// No token: still ping the service anonymously.
			fmt.Println("Not logged in. Run 'letly init <token>' to store a token.")
			client, err = getAnonClient()
			if err != nil {
				return err
			}
		} else {
			claims, err := client.Me()
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s (%s, role=%s)\n", claims.Name, claims.UserID, claims.Role)
			if claims.ExpiresAt != nil {
				fmt.Printf("Token expires %s\n", claims.ExpiresAt.Format(time.RFC3339))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		res, err := client.Health(ctx)
		if err != nil {
			fmt.Printf("Chat service: unreachable (%v)\n", err)
			return nil
		}
		if res.OK {
			fmt.Println("Chat service: ok")
		} else if res.Error != nil {
			fmt.Printf("Chat service: %s\n", res.Error.Message)
		} else {
			fmt.Println("Chat service: degraded")
		}
		return nil
	},
}
