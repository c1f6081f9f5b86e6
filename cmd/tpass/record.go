package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tpass/tpass/pkg/record"

	"github.com/spf13/cobra"
)

// Flags for add and update.
var (
	recUsername string
	recURL      string
	recNotes    string
	recCategory string
	recTags     string

	updTitle  string
	updRotate bool

	listCategory string
	listTag      string

	getShowSecret bool
)

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)

	addCmd.Flags().StringVar(&recUsername, "username", "", "Username or login")
	addCmd.Flags().StringVar(&recURL, "url", "", "Associated URL")
	addCmd.Flags().StringVar(&recNotes, "notes", "", "Free-form notes")
	addCmd.Flags().StringVar(&recCategory, "category", "", "Category (accounts, wifi, pin-codes, or custom)")
	addCmd.Flags().StringVar(&recTags, "tags", "", "Comma-separated tags")

	getCmd.Flags().BoolVar(&getShowSecret, "show-secret", false, "Print the stored secret")

	listCmd.Flags().StringVar(&listCategory, "category", "", "Filter by category")
	listCmd.Flags().StringVar(&listTag, "tag", "", "Filter by exact tag")

	updateCmd.Flags().StringVar(&updTitle, "title", "", "New title")
	updateCmd.Flags().StringVar(&recUsername, "username", "", "New username")
	updateCmd.Flags().StringVar(&recURL, "url", "", "New URL")
	updateCmd.Flags().StringVar(&recNotes, "notes", "", "New notes")
	updateCmd.Flags().StringVar(&recCategory, "category", "", "New category")
	updateCmd.Flags().StringVar(&recTags, "tags", "", "New comma-separated tags")
	updateCmd.Flags().BoolVar(&updRotate, "rotate", false, "Prompt for a new secret")
}

// addCmd stores a new record.
var addCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a credential record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}

		secret, err := promptPassword("Enter secret value")
		if err != nil {
			return err
		}

		added, err := st.Add(&record.Record{
			Title:    args[0],
			Username: recUsername,
			Secret:   secret,
			URL:      recURL,
			Notes:    recNotes,
			Category: record.Category(recCategory),
			Tags:     splitTags(recTags),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Record '%s' saved (id %d)\n", added.Title, added.ID)
		return nil
	},
}

// getCmd shows one record by title.
var getCmd = &cobra.Command{
	Use:   "get [title]",
	Short: "Show the record with the given title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}

		r, err := st.FindByTitle(args[0])
		if err != nil {
			return err
		}
		printRecord(r, getShowSecret)
		return nil
	},
}

// listCmd lists records, optionally filtered.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List records, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}

		var (
			records []*record.Record
			err     error
		)
		switch {
		case listCategory != "":
			records, err = st.FilterByCategory(record.Category(listCategory))
		case listTag != "":
			records, err = st.FilterByTag(listTag)
		default:
			records, err = st.List()
		}
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
	},
}

// searchCmd runs a free-text query over titles, URLs, categories and tags.
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}

		records, err := st.Search(args[0])
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
	},
}

// updateCmd edits a record in place.
var updateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Update the record with the given id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid record id %q", args[0])
		}
		if _, err := ensureUnlocked(); err != nil {
			return err
		}

		r, err := st.Get(id)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("title") {
			r.Title = updTitle
		}
		if cmd.Flags().Changed("username") {
			r.Username = recUsername
		}
		if cmd.Flags().Changed("url") {
			r.URL = recURL
		}
		if cmd.Flags().Changed("notes") {
			r.Notes = recNotes
		}
		if cmd.Flags().Changed("category") {
			r.Category = record.Category(recCategory)
		}
		if cmd.Flags().Changed("tags") {
			r.Tags = splitTags(recTags)
		}
		if updRotate {
			secret, err := promptPassword("Enter new secret value")
			if err != nil {
				return err
			}
			r.Secret = secret
		}

		updated, err := st.Update(r)
		if err != nil {
			return err
		}
		fmt.Printf("Record '%s' updated\n", updated.Title)
		return nil
	},
}

// deleteCmd removes a record by id.
var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete the record with the given id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid record id %q", args[0])
		}
		if _, err := ensureUnlocked(); err != nil {
			return err
		}

		if err := st.Delete(id); err != nil {
			return err
		}
		fmt.Printf("Record %d deleted\n", id)
		return nil
	},
}

func printRecordLine(r *record.Record) {
	line := fmt.Sprintf("%4d  %s", r.ID, r.Title)
	if r.Username != "" {
		line += "  (" + r.Username + ")"
	}
	if r.Category.String() != string(record.Accounts) {
		line += "  [" + r.Category.String() + "]"
	}
	if len(r.Tags) > 0 {
		line += "  #" + strings.Join(r.Tags, " #")
	}
	fmt.Println(line)
}

func printRecord(r *record.Record, showSecret bool) {
	fmt.Printf("Title:    %s\n", r.Title)
	if r.Username != "" {
		fmt.Printf("Username: %s\n", r.Username)
	}
	if showSecret {
		fmt.Printf("Secret:   %s\n", r.Secret)
	}
	if r.URL != "" {
		fmt.Printf("URL:      %s\n", r.URL)
	}
	if r.Notes != "" {
		fmt.Printf("Notes:    %s\n", r.Notes)
	}
	fmt.Printf("Category: %s\n", r.Category)
	if len(r.Tags) > 0 {
		fmt.Printf("Tags:     %s\n", strings.Join(r.Tags, ", "))
	}
	if !r.LastUpdated.IsZero() {
		fmt.Printf("Updated:  %s\n", r.LastUpdated.Local().Format("2006-01-02 15:04"))
	}
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
