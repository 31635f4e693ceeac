package main

import (
	"context"
	"fmt"
	"time"

	letly "github.com/letly-app/letly-go"
	"github.com/spf13/cobra"
)

var (
	adminTenantID   string
	adminLandlordID string
	adminPropertyID string
	adminFollow     bool
)

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminViewCmd)
	adminCmd.AddCommand(adminUsersCmd)
	adminCmd.AddCommand(adminPropertiesCmd)

	adminViewCmd.Flags().StringVar(&adminTenantID, "tenant", "", "tenant user id")
	adminViewCmd.Flags().StringVar(&adminLandlordID, "landlord", "", "landlord user id")
	adminViewCmd.Flags().StringVar(&adminPropertyID, "property", "", "property id")
	adminViewCmd.Flags().BoolVar(&adminFollow, "follow", false, "keep polling the thread")
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Admin tools for inspecting marketplace conversations",
}

// ============================================================================
// letly admin view
// ============================================================================

var adminViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the conversation between a tenant and a landlord about a property",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}

		viewer := letly.NewAdminViewer(client, letly.DefaultThreadPollInterval)
		defer viewer.Close()

		viewer.SelectTenant(adminTenantID)
		viewer.SelectLandlord(adminLandlordID)
		viewer.SelectProperty(adminPropertyID)

		if !viewer.Ready() {
			return fmt.Errorf("pick all three of --tenant, --landlord and --property")
		}

		ctx := context.Background()
		if !viewer.FetchThread(ctx) {
			return fmt.Errorf("could not fetch the thread")
		}
		if err := viewer.LastError(); err != nil {
			return err
		}

		msgs := viewer.Thread()
		if len(msgs) == 0 {
			fmt.Println("No messages between these users about this property.")
		}
		for i := range msgs {
			printMessage(&msgs[i])
		}

		if !adminFollow {
			return nil
		}

		viewer.Start(ctx)
		seen := len(msgs)
		for {
			time.Sleep(time.Second)
			cur := viewer.Thread()
			for ; seen < len(cur); seen++ {
				printMessage(&cur[seen])
			}
		}
	},
}

// ============================================================================
// letly admin users / properties
// ============================================================================

var adminUsersCmd = &cobra.Command{
	Use:   "users <tenant|landlord>",
	Short: "List users by role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		users, err := client.Admin.Users(ctx, args[0])
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%s\t%s\t%s\n", u.ID, u.Name, u.Email)
		}
		return nil
	},
}

var adminPropertiesCmd = &cobra.Command{
	Use:   "properties",
	Short: "List properties",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		props, err := client.Admin.Properties(ctx)
		if err != nil {
			return err
		}
		for _, p := range props {
			fmt.Printf("%s\t%s\t%s\n", p.ID, p.Title, p.City)
		}
		return nil
	},
}
