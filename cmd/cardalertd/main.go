package main

import (
	"cardalert-backend/cmd/cardalertd/commands"
	"cardalert-backend/lib/telemetry"
	"cardalert-backend/lib/util/serviceutil"
)

func main() {
	ctx := serviceutil.SignalContext()
	telemetry.SetupFromEnv(ctx, "cardalertd")
	commands.ExecuteContext(ctx)
}
