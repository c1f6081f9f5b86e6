package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyVerifyCmd)
	historyCmd.AddCommand(historyClearCmd)

	historyListCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum number of entries to show")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Change log operations",
}

// historyListCmd shows recent changes, newest first.
var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List change log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := promptMasterVerified(); err != nil {
			return err
		}

		entries, err := hist.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No history")
			return nil
		}
		if historyLimit > 0 && len(entries) > historyLimit {
			entries = entries[:historyLimit]
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-8s  %s", e.Timestamp.Local().Format("2006-01-02 15:04"), e.Action, e.ServiceName)
			if e.Username != "" {
				line += "  (" + e.Username + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

// historyVerifyCmd checks the integrity chain.
var historyVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the change log integrity chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := promptMasterVerified(); err != nil {
			return err
		}

		result, err := hist.Verify()
		if err != nil {
			return err
		}
		if !result.Valid {
			return fmt.Errorf("history chain broken at entry %s (%d entries checked)", result.BrokenAt, result.Entries)
		}
		fmt.Printf("History chain intact: %d entries\n", result.Entries)
		return nil
	},
}

// historyClearCmd wipes the change log.
var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all change log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := promptMasterVerified(); err != nil {
			return err
		}

		if err := hist.Clear(); err != nil {
			return err
		}
		fmt.Println("History cleared")
		return nil
	},
}
