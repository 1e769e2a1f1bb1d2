package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/knockturn/service/temporal"
	"github.com/urfave/cli/v2"
)

// sweepClient is the part of the Temporal client the CLI drives.
type sweepClient interface {
	temporal.Scheduler
	RunSweep(ctx context.Context, input temporal.SweepWorkflowInput) (*temporal.SweepWorkflowResult, error)
	Close()
}

// dialTemporal is replaced in tests.
var dialTemporal = func(c *cli.Context) (sweepClient, error) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		nil,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return tc, nil
}

func temporalCommands() *cli.Command {
	return &cli.Command{
		Name:  "temporal",
		Usage: "Sweep schedule and workflow commands",
		Subcommands: []*cli.Command{
			describeScheduleCommand(),
			createScheduleCommand(),
			deleteScheduleCommand(),
			runSweepCommand(),
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "describe-schedule",
		Usage:   "Describe the sweep schedule",
		Aliases: []string{"desc"},
		Action: func(c *cli.Context) error {
			tc, err := dialTemporal(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			info, err := tc.DescribeSweepSchedule(c.Context)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Schedule ID: %s\n", info.ID)
			fmt.Printf("Interval:    %v\n", info.Interval)
			fmt.Printf("Paused:      %t\n", info.Paused)
			if len(info.NextRuns) > 0 {
				fmt.Println("Next Runs:")
				for _, t := range info.NextRuns {
					fmt.Printf("  - %s\n", t.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func createScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "create-schedule",
		Usage:   "Create the sweep schedule or update its interval",
		Aliases: []string{"upsert-schedule"},
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "How often the sweep runs",
				EnvVars: []string{"SWEEP_INTERVAL"},
				Value:   5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			interval := c.Duration("interval")
			if interval < time.Second {
				return fmt.Errorf("interval must be at least 1s, got %v", interval)
			}

			tc, err := dialTemporal(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.UpsertSweepSchedule(c.Context, interval); err != nil {
				return err
			}

			fmt.Printf("✓ Schedule %s runs every %v\n", temporal.SweepScheduleID, interval)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "delete-schedule",
		Usage:   "Delete the sweep schedule",
		Aliases: []string{"rm-schedule"},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("force") {
				fmt.Printf("Delete schedule %s? Background passes stop until it is recreated. [y/N]: ", temporal.SweepScheduleID)
				var answer string
				fmt.Scanln(&answer)
				if strings.ToLower(strings.TrimSpace(answer)) != "y" {
					fmt.Println("Cancelled")
					return nil
				}
			}

			tc, err := dialTemporal(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteSweepSchedule(c.Context); err != nil {
				return err
			}

			fmt.Printf("✓ Schedule %s deleted\n", temporal.SweepScheduleID)
			return nil
		},
	}
}

func runSweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "run-sweep",
		Usage: "Run the sweep workflow once and wait for the result",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "pass",
				Aliases: []string{"p"},
				Usage:   "Pass to run (repeatable); all passes when omitted",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the workflow",
				Value: 2 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := dialTemporal(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			result, err := tc.RunSweep(ctx, temporal.SweepWorkflowInput{Passes: c.StringSlice("pass")})
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PASS\tFOUND\tDONE\tSKIPPED\tFAILED")
			for _, r := range result.Results {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", r.Pass, r.Found, r.Done, r.Skipped, r.Failed)
			}
			w.Flush()

			for _, e := range result.Errors {
				fmt.Fprintf(os.Stderr, "error: %s\n", e)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d passes failed", len(result.Errors))
			}
			return nil
		},
	}
}
