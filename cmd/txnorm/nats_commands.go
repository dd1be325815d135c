package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	natspkg "github.com/brojonat/txnorm/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to transaction events for an account.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Subscribe to normalized transaction events for an account",
		Description: `Stream normalized transactions published to NATS JetStream.

Events are published to the subject: txns.{address}

Example:
  txnorm nats subscribe --address DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "Observed account address",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "durable",
				Usage: "Durable consumer name (survives restarts)",
			},
			&cli.BoolFlag{
				Name:  "new-only",
				Usage: "Only deliver events published after subscribing",
			},
		},
		Action: func(c *cli.Context) error {
			address := c.String("address")

			nc, err := natspkg.Connect(c.String("nats-url"), "txnorm-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(os.Stderr, "Subscribed to %s (Ctrl+C to stop)\n", natspkg.Subject(address))

			var (
				mu        sync.Mutex
				handleErr error
			)
			err = natspkg.Subscribe(ctx, js, address, natspkg.SubscribeOptions{
				Durable: c.String("durable"),
				NewOnly: c.Bool("new-only"),
			}, cliLogger(), func(event *natspkg.TransactionEvent) {
				mu.Lock()
				defer mu.Unlock()
				if handleErr != nil {
					return
				}
				if err := output(c, event, func(w io.Writer) error {
					return printEvent(w, event)
				}); err != nil {
					handleErr = err
					stop()
				}
			})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return handleErr
		},
	}
}

func printEvent(w io.Writer, event *natspkg.TransactionEvent) error {
	blockTime := "unknown"
	if event.BlockTime != nil {
		blockTime = event.BlockTime.Format(time.RFC3339)
	}
	_, err := fmt.Fprintf(w, "[%s] %s %s %s out=%s in=%s\n",
		blockTime,
		event.ID,
		event.Type,
		event.Status,
		summarize(event.From, event.Account),
		summarize(event.To, event.Account),
	)
	return err
}

