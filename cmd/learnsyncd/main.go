package main

import (
	"context"

	"learnsync-backend/lib/configutil"
	configsqlite "learnsync-backend/lib/configutil/sqlite"
	"learnsync-backend/lib/scrapers/learnus/core"
	"learnsync-backend/lib/serviceutil"
	"learnsync-backend/lib/telemetry"
	"learnsync-backend/services/credstore"
	creddb "learnsync-backend/services/credstore/db"
	"learnsync-backend/services/notifier"
	"learnsync-backend/services/scheduler"
	"learnsync-backend/services/syncer"
	syncdb "learnsync-backend/services/syncer/db"
)

type PortalConfig struct {
	BaseUrl string `json:"base_url"`
}

type Config struct {
	Database  configsqlite.Struct `json:"database"`
	Portal    PortalConfig        `json:"portal"`
	CacheDir  string              `json:"cache_dir"`
	Scheduler scheduler.Config    `json:"scheduler"`
	Smtp      notifier.Config     `json:"smtp"`
	Debug     bool                `json:"debug"`
}

func main() {
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	telemetry.InitSlog(config.Debug)

	t, err := telemetry.SetupFromEnv(ctx, "learnsyncd")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	database, err := config.Database.OpenDB(creddb.Schema + "\n" + syncdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}
	defer database.Close()

	creds := credstore.NewStore(database)
	engine := syncer.NewEngine(database, creds, syncer.LearnUsDialer{
		Options: core.ClientOptions{BaseUrl: config.Portal.BaseUrl},
	}, syncer.Options{
		CacheDir: config.CacheDir,
		Notifier: notifier.New(config.Smtp),
	})

	err = scheduler.New(engine, creds, config.Scheduler).Run(ctx)
	if err != nil {
		serviceutil.Fatal("scheduler exited", err)
	}
}
