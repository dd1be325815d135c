package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/brojonat/txnorm/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func addressFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "address",
		Aliases:  []string{"a"},
		Usage:    "Account address to sync",
		Required: true,
	}
}

func createScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a schedule that syncs an account periodically",
		Flags: []cli.Flag{
			addressFlag(),
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "How often to sync",
				Value:   5 * time.Minute,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum signatures fetched per sync",
				Value: 100,
			},
		},
		Action: func(c *cli.Context) error {
			address := c.String("address")
			if _, err := solanago.PublicKeyFromBase58(address); err != nil {
				return fmt.Errorf("invalid address: %w", err)
			}
			interval := c.Duration("interval")
			if interval < time.Second {
				return fmt.Errorf("interval must be at least 1s, got %v", interval)
			}

			client, err := getScheduler(c)
			if err != nil {
				return err
			}
			defer client.Close()

			input := temporal.SyncAddressInput{
				Address: address,
				Network: c.String("network"),
				Limit:   c.Int("limit"),
			}
			if err := client.CreateSyncSchedule(context.Background(), input, interval); err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.App.Writer, "Created sync schedule for %s on %s every %v\n", address, input.Network, interval)
			return err
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete an account's sync schedule",
		Flags: []cli.Flag{addressFlag()},
		Action: func(c *cli.Context) error {
			client, err := getScheduler(c)
			if err != nil {
				return err
			}
			defer client.Close()

			address := c.String("address")
			if err := client.DeleteSyncSchedule(context.Background(), address, c.String("network")); err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.App.Writer, "Deleted sync schedule for %s\n", address)
			return err
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "describe",
		Usage:   "Describe an account's sync schedule",
		Aliases: []string{"desc"},
		Flags:   []cli.Flag{addressFlag()},
		Action: func(c *cli.Context) error {
			client, err := getScheduler(c)
			if err != nil {
				return err
			}
			defer client.Close()

			info, err := client.DescribeSyncSchedule(context.Background(), c.String("address"), c.String("network"))
			if err != nil {
				return err
			}
			return output(c, info, func(w io.Writer) error {
				next := "none"
				if info.NextRunTime != nil {
					next = info.NextRunTime.Format(time.RFC3339)
				}
				_, err := fmt.Fprintf(w, "Schedule ID:  %s\nAddress:      %s\nNetwork:      %s\nInterval:     %v\nPaused:       %v\nRuns:         %d\nNext Run:     %s\n",
					info.ID, info.Address, info.Network, info.Interval, info.Paused, info.NumActions, next)
				return err
			})
		},
	}
}

// getScheduler connects to Temporal using the global flags.
func getScheduler(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		cliLogger(),
	)
}
