package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "presalectl",
		Usage: "Presale wallet monitoring service CLI",
		Description: `A command-line tool for querying and debugging the presale monitor service.

Use this CLI to fetch the metrics snapshot, page through classified
transactions, inspect the contributor leaderboard, and pull diagnostics.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			metricsCommand(),
			transactionsCommand(),
			contributorsCommand(),
			diagnosticsCommand(),
			healthCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
