package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "knockturn",
		Usage: "Grin payment gateway CLI",
		Description: `A command-line tool for operating and debugging the knockturn service.

Use this CLI to inspect merchants and transactions, manage the sweep schedule,
tail transaction events, and drive the merchant API.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			dbCommands(),
			temporalCommands(),
			natsCommands(),
			clientCommands(),
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		Flags: globalFlags(),
	}
}

// globalFlags are available to all commands.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "temporal-host",
			Usage:   "Temporal server address",
			EnvVars: []string{"TEMPORAL_HOST"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "temporal-task-queue",
			Usage:   "Temporal task queue of the sweep worker",
			EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			Value:   "knockturn-sweeper",
		},
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "knockturn server URL",
			EnvVars: []string{"SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "merchant",
			Aliases: []string{"m"},
			Usage:   "Merchant id for API commands",
			EnvVars: []string{"KNOCKTURN_MERCHANT"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Merchant API token",
			EnvVars: []string{"KNOCKTURN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
		&cli.StringFlag{
			Name:    "nats-stream",
			Usage:   "JetStream stream holding transaction events",
			EnvVars: []string{"NATS_STREAM"},
			Value:   "KNOCKTURN_TRANSACTIONS",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
	}
}
