package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/txnorm/service/db"
	"github.com/brojonat/txnorm/service/normalizer"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List stored transactions for an account, newest first",
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
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			address := c.String("address")
			network := c.String("network")

			transactions, err := store.ListTransactionsByAccount(ctx, db.ListTransactionsByAccountParams{
				Account: address,
				Network: network,
				Limit:   int32(c.Int("limit")),
				Offset:  int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			total, err := store.CountTransactionsByAccount(ctx, address, network)
			if err != nil {
				return fmt.Errorf("failed to count transactions: %w", err)
			}

			if err := output(c, transactions, func(w io.Writer) error {
				rows := make([]*normalizer.NormalizedTransaction, len(transactions))
				for i, txn := range transactions {
					rows[i] = &txn.NormalizedTransaction
				}
				return printTransactionTable(w, rows)
			}); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "\nShowing %d of %d transactions\n", len(transactions), total)
			return nil
		},
	}
}

func getTransactionCommand() *cli.Command {
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

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txn, err := store.GetTransaction(context.Background(), c.String("address"), c.Args().First())
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("transaction %s not found for %s", c.Args().First(), c.String("address"))
			}
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}

			return output(c, txn, func(w io.Writer) error {
				if err := printTransaction(w, normalizer.Result{
					Outcome:     normalizer.OutcomeEmitted,
					Transaction: &txn.NormalizedTransaction,
				}); err != nil {
					return err
				}
				_, err := fmt.Fprintf(w, "Slot:        %d\nUpdated:     %s\n", txn.Slot, txn.UpdatedAt.Format(time.RFC3339))
				return err
			})
		},
	}
}

func printTransactionTable(w io.Writer, transactions []*normalizer.NormalizedTransaction) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNATURE\tTYPE\tSTATUS\tBLOCK TIME\tOUT\tIN")
	for _, txn := range transactions {
		blockTime := "unknown"
		if txn.Timestamp != nil {
			blockTime = txn.BlockTime().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			txn.ID,
			txn.Type,
			txn.Status,
			blockTime,
			summarize(txn.From, txn.Account),
			summarize(txn.To, txn.Account),
		)
	}
	return tw.Flush()
}

// summarize lists the account's own movements as "amount unit" pairs.
func summarize(movements []normalizer.Movement, account string) string {
	var parts []string
	for _, m := range movements {
		if m.Address == account {
			parts = append(parts, m.Amount.String()+" "+m.Unit)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}
