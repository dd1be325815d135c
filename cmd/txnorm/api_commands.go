package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/txnorm/client"
	"github.com/brojonat/txnorm/service/normalizer"
	"github.com/urfave/cli/v2"
)

func apiCommands() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Commands that go through the txnorm HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"TXNORM_SERVER_URL"},
			},
		},
		Subcommands: []*cli.Command{
			apiListCommand(),
			apiGetCommand(),
			apiNormalizeCommand(),
			apiStreamCommand(),
		},
	}
}

func apiClient(c *cli.Context, httpClient *http.Client) *client.Client {
	return client.NewClient(c.String("server"), httpClient, cliLogger())
}

func apiListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List stored transactions for an account",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "Observed account address",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Limit number of transactions",
				Value: 50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Skip this many transactions",
			},
		},
		Action: func(c *cli.Context) error {
			page, err := apiClient(c, nil).ListTransactions(context.Background(),
				c.String("address"), c.String("network"), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return err
			}

			if err := output(c, page, func(w io.Writer) error {
				rows := make([]*normalizer.NormalizedTransaction, len(page.Transactions))
				for i, txn := range page.Transactions {
					rows[i] = &txn.NormalizedTransaction
				}
				return printTransactionTable(w, rows)
			}); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "\nShowing %d of %d transactions\n", page.Count, page.Total)
			return nil
		},
	}
}

func apiGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get a stored transaction",
		ArgsUsage: "<signature>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "Observed account address",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			txn, err := apiClient(c, nil).GetTransaction(context.Background(), c.String("address"), c.Args().First())
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("transaction %s not found for %s", c.Args().First(), c.String("address"))
			}
			if err != nil {
				return err
			}

			return output(c, txn, func(w io.Writer) error {
				return printTransaction(w, normalizer.Result{
					Outcome:     normalizer.OutcomeEmitted,
					Transaction: &txn.NormalizedTransaction,
				})
			})
		},
	}
}

func apiNormalizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "normalize",
		Usage: "Normalize raw transaction records on the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the raw record JSON file (- for stdin)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "Observed account address",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			records, err := loadRecords(c.String("file"))
			if err != nil {
				return err
			}

			result, err := apiClient(c, nil).Normalize(context.Background(), c.String("address"), c.String("network"), records)
			if err != nil {
				return err
			}

			out := make([]normalizeOutput, 0, len(result.Results))
			for _, res := range result.Results {
				out = append(out, normalizeOutput{Outcome: res.Outcome, Transaction: res.Transaction})
			}
			return output(c, out, nil)
		},
	}
}

func apiStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream new transactions for an account over SSE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Observed account address (all accounts if empty)",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// No timeout: the stream stays open until interrupted.
			api := apiClient(c, &http.Client{})
			var writeErr error
			err := api.StreamTransactions(ctx, c.String("address"), func(txn *client.Transaction) {
				if writeErr != nil {
					return
				}
				writeErr = output(c, txn, func(w io.Writer) error {
					return printStreamed(w, txn)
				})
				if writeErr != nil {
					stop()
				}
			})
			if writeErr != nil {
				return writeErr
			}
			return err
		},
	}
}

func printStreamed(w io.Writer, txn *client.Transaction) error {
	blockTime := "unknown"
	if txn.BlockAt != nil {
		blockTime = txn.BlockAt.Format(time.RFC3339)
	}
	_, err := fmt.Fprintf(w, "[%s] %s %s %s out=%s in=%s\n",
		blockTime,
		txn.ID,
		txn.Type,
		txn.Status,
		summarize(txn.From, txn.Account),
		summarize(txn.To, txn.Account),
	)
	return err
}
