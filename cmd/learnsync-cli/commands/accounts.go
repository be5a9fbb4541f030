package commands

import (
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"learnsync-backend/lib/serviceutil"
	"learnsync-backend/services/credstore"
)

var addLogin *string
var addPassword *string
var addStudentNo *string
var addInstitution *string
var deactivateReason *string

func init() {
	addLogin = accountsAddCmd.Flags().String("login", "", "Portal login id.")
	addPassword = accountsAddCmd.Flags().String("password", "", "Portal password.")
	addStudentNo = accountsAddCmd.Flags().String("student-no", "", "Student number, if the login form asks for one.")
	addInstitution = accountsAddCmd.Flags().String("institution", "yonsei", "Institution the account belongs to.")
	accountsAddCmd.MarkFlagRequired("login")
	accountsAddCmd.MarkFlagRequired("password")

	deactivateReason = accountsDeactivateCmd.Flags().String("reason", "operator request", "Reason recorded with the deactivation.")

	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsDeactivateCmd)
	rootCmd.AddCommand(accountsCmd)
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manages the portal credentials known to the syncer.",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists accounts eligible for automatic syncing.",
	Run: func(cmd *cobra.Command, args []string) {
		_, database := openFromConfig()
		defer database.Close()

		creds, err := credstore.NewStore(database).ListActive(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to list accounts", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Account", "Login", "Institution", "Bad Logins", "Last Used"})
		for _, cred := range creds {
			lastUsed := "never"
			if !cred.LastUsedAt.IsZero() {
				lastUsed = cred.LastUsedAt.Format("2006-01-02 15:04:05")
			}
			t.AppendRow(table.Row{
				cred.AccountId,
				cred.LoginId,
				cred.Institution,
				cred.BadLogins,
				lastUsed,
			})
		}
		t.Render()
	},
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <account-id> --login <id> --password <secret>",
	Short: "Adds or replaces an account's portal credentials.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, database := openFromConfig()
		defer database.Close()

		err := credstore.NewStore(database).Create(cmd.Context(), credstore.CreateParams{
			AccountId:   args[0],
			LoginId:     *addLogin,
			Secret:      *addPassword,
			StudentNo:   *addStudentNo,
			Institution: *addInstitution,
		})
		if err != nil {
			serviceutil.Fatal("failed to save credential", err)
		}
		slog.Info("credential saved", "account", args[0])
	},
}

var accountsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <account-id> [--reason <text>]",
	Short: "Takes an account out of automatic syncing.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, database := openFromConfig()
		defer database.Close()

		err := credstore.NewStore(database).Deactivate(cmd.Context(), args[0], *deactivateReason)
		if err != nil {
			serviceutil.Fatal("failed to deactivate account", err)
		}
	},
}
