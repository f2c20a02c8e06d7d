// Command ctrlupgrade lists controllers running an older version than the
// Command Center server and upgrades them.
//
// # Usage
//
//	ctrlupgrade --server https://acc.example.net/apm/acc --token $TOKEN --list
//	ctrlupgrade --upgrade '*' --wait 300
//	ctrlupgrade tasks
//	ctrlupgrade info
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (ACC_SERVER, ACC_TOKEN, ACC_WAIT, ACC_PROFILE)
// - Config file (--config) or profile (~/.acc/<profile>.yaml)
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pilot-net/ctrl-upgrade/cmd/ctrlupgrade/commands"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := commands.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	os.Exit(code)
}
