package commands

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"learnsync-backend/lib/scrapers/learnus/core"
	"learnsync-backend/lib/serviceutil"
	"learnsync-backend/services/credstore"
	"learnsync-backend/services/notifier"
	"learnsync-backend/services/syncer"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync <account-id>",
	Short: "Runs one sync cycle for an account right now.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config, database := openFromConfig()
		defer database.Close()

		creds := credstore.NewStore(database)
		engine := syncer.NewEngine(database, creds, syncer.LearnUsDialer{
			Options: core.ClientOptions{BaseUrl: config.Portal.BaseUrl},
		}, syncer.Options{
			CacheDir: config.CacheDir,
			Notifier: notifier.New(config.Smtp),
		})

		t1 := time.Now()
		report, err := engine.RunCycle(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("sync cycle failed", err)
		}
		slog.Info("sync cycle complete",
			"seconds", time.Since(t1).Seconds(),
			"scraped", report.Scraped,
			"new", report.New,
			"updated", report.Updated,
			"removed", report.Removed,
			"total", report.Total,
			"warnings", report.Warnings,
			"failed_courses", report.FailedCourses)
	},
}
