package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"learnsync-backend/lib/configutil"
	configsqlite "learnsync-backend/lib/configutil/sqlite"
	"learnsync-backend/lib/serviceutil"
	creddb "learnsync-backend/services/credstore/db"
	"learnsync-backend/services/notifier"
	syncdb "learnsync-backend/services/syncer/db"
)

type PortalConfig struct {
	BaseUrl string `json:"base_url"`
}

type Config struct {
	Database configsqlite.Struct `json:"database"`
	Portal   PortalConfig        `json:"portal"`
	CacheDir string              `json:"cache_dir"`
	Smtp     notifier.Config     `json:"smtp"`
}

func openFromConfig() (Config, *sql.DB) {
	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	database, err := config.Database.OpenDB(creddb.Schema + "\n" + syncdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}
	return config, database
}

var rootCmd = &cobra.Command{
	Use:   "learnsync-cli",
	Short: "learnsync-cli inspects and drives the assignment sync pipeline.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
