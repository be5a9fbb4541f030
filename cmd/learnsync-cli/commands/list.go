package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"learnsync-backend/lib/serviceutil"
	"learnsync-backend/services/credstore"
	"learnsync-backend/services/syncer"
)

var listUpcomingOnly *bool

func init() {
	listUpcomingOnly = listCmd.Flags().Bool("upcoming", false, "Only show upcoming unsubmitted assignments.")
	rootCmd.AddCommand(listCmd)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

var listCmd = &cobra.Command{
	Use:   "list <account-id> [--upcoming]",
	Short: "Lists the stored assignment snapshot for an account.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, database := openFromConfig()
		defer database.Close()

		engine := syncer.NewEngine(database, credstore.NewStore(database), nil, syncer.Options{})
		records, err := engine.Assignments(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("failed to load assignments", err)
		}
		status, err := engine.Status(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("failed to load sync status", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Title", "Course", "Due", "Status", "Priority", "Tags", "New"})
		for _, r := range records {
			if *listUpcomingOnly && !r.IsUpcoming {
				continue
			}
			marker := ""
			if r.IsNew {
				marker = "*"
			}
			t.AppendRow(table.Row{
				r.Title,
				r.CourseName,
				r.DueDate.Format("2006-01-02 15:04"),
				r.Status,
				r.Priority,
				strings.Join(r.Tags, ", "),
				marker,
			})
		}
		t.Render()

		fmt.Printf("last sync: %s (%s)\n", status.LastSyncAt.Format("2006-01-02 15:04:05"), status.LastStatus)
		if status.LastError != "" {
			fmt.Printf("last error: %s\n", status.LastError)
		}
	},
}
