package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/reviewpulse/internal/database"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage tracked apps",
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered apps",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		apps, err := db.ListApps()
		if err != nil {
			return err
		}
		if len(apps) == 0 {
			fmt.Println("No apps registered. Add one with: reviewpulse apps add, or run: reviewpulse apps sync")
			return nil
		}

		fmt.Println("Apps:")
		fmt.Println()
		for _, a := range apps {
			n, err := db.CountReviews(&a.ID)
			if err != nil {
				return err
			}
			fmt.Printf("  [%d] %-7s %s  %s (%d reviews)\n", a.ID, a.Store, a.ExternalID, a.Name, n)
		}
		return nil
	},
}

var appsAddCmd = &cobra.Command{
	Use:   "add [ios|android] [external id] [name]",
	Short: "Register an app listing",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.AddApp(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("Added app [%d]: %s (%s)\n", id, args[2], args[0])
		return nil
	},
}

var appsRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove an app with its reviews and summaries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid app ID: %s", args[0])
		}

		app, err := db.GetApp(id)
		if err != nil {
			return err
		}
		if app == nil {
			return fmt.Errorf("app %d not found", id)
		}

		if err := db.RemoveApp(id); err != nil {
			return err
		}
		fmt.Printf("Removed app [%d]: %s\n", id, app.Name)
		return nil
	},
}

var appsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Register the apps listed in the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		apps := make([]database.App, len(cfg.Apps))
		for i, a := range cfg.Apps {
			apps[i] = database.App{Store: a.Store, ExternalID: a.ExternalID, Name: a.Name}
		}
		added, err := db.SyncApps(apps)
		if err != nil {
			return err
		}
		fmt.Printf("Synced %d app(s) from config, %d new.\n", len(apps), added)
		return nil
	},
}

func init() {
	appsCmd.AddCommand(appsListCmd)
	appsCmd.AddCommand(appsAddCmd)
	appsCmd.AddCommand(appsRemoveCmd)
	appsCmd.AddCommand(appsSyncCmd)
}
