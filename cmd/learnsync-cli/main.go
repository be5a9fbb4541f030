package main

import (
	"context"
	"learnsync-backend/cmd/learnsync-cli/commands"
	"learnsync-backend/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "learnsync-cli")
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
