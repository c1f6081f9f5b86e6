package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/tpass/tpass/pkg/access"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
}

// sessionCmd keeps the vault open for repeated queries. The session relocks
// after the configured idle timeout and demands the master password again.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Open an interactive session",
	Long: `Open an interactive session for repeated queries without re-entering
the master password for every command. The session locks itself after the
configured idle timeout.

Commands: list, search <query>, get <title>, show <title>, lock, quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}
		defer st.Close()

		locker := access.NewLocker(cfg.IdleTimeout.Std())
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("Session open. Type 'quit' to exit.")

		for {
			fmt.Print("tpass> ")
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}

			if locker.ShouldLock() {
				locker.Lock()
				st.Close()
				fmt.Println("Session locked after inactivity.")
				if _, err := ensureUnlocked(); err != nil {
					return err
				}
				locker.Unlock()
			}
			locker.Touch()

			verb, rest, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
			rest = strings.TrimSpace(rest)

			var err error
			switch verb {
			case "":
			case "quit", "exit":
				return nil
			case "lock":
				locker.Lock()
				st.Close()
				fmt.Println("Session locked.")
				if _, err := ensureUnlocked(); err != nil {
					return err
				}
				locker.Unlock()
			case "list":
				err = sessionList()
			case "search":
				err = sessionSearch(rest)
			case "get":
				err = sessionGet(rest, false)
			case "show":
				err = sessionGet(rest, true)
			default:
				fmt.Printf("unknown command %q\n", verb)
			}
			if err != nil {
				fmt.Println(err)
			}
		}
	},
}

func sessionList() error {
	records, err := st.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No records")
		return nil
	}
	for _, r := range records {
		printRecordLine(r)
	}
	return nil
}

func sessionSearch(query string) error {
	if query == "" {
		return fmt.Errorf("usage: search <query>")
	}
	records, err := st.Search(query)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No matches")
		return nil
	}
	for _, r := range records {
		printRecordLine(r)
	}
	return nil
}

func sessionGet(title string, showSecret bool) error {
	if title == "" {
		return fmt.Errorf("usage: get <title>")
	}
	r, err := st.FindByTitle(title)
	if err != nil {
		return err
	}
	printRecord(r, showSecret)
	return nil
}
