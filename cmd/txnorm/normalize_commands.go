package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/txnorm/service/normalizer"
	"github.com/brojonat/txnorm/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

// defaultRPCURLs are the public endpoints used when --rpc-url is not set.
var defaultRPCURLs = map[string]string{
	"mainnet": "https://api.mainnet-beta.solana.com",
	"devnet":  "https://api.devnet.solana.com",
	"testnet": "https://api.testnet.solana.com",
}

// normalizeOutput is one evaluated record.
type normalizeOutput struct {
	Outcome     normalizer.Outcome                `json:"outcome"`
	Transaction *normalizer.NormalizedTransaction `json:"transaction,omitempty"`
}

func normalizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "normalize",
		Usage: "Normalize raw transaction records from a file",
		Description: `Run the normalization pipeline offline over raw transaction records.

The file holds a single raw record or a JSON array of records, in the format
printed by "txnorm fetch --raw". Use "-" to read from stdin.

Example:
  txnorm normalize --file raw.json --address 7YttLkHDoNj9wyDur5pM1ejNaAvT9X4eqaYcHQqtj2G5 --jq '.[].transaction.type'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the raw record JSON file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "Observed account address",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "dust-threshold",
				Usage: "Minimum native amount a receive must carry",
				Value: normalizer.DefaultDustThreshold.String(),
			},
		},
		Action: func(c *cli.Context) error {
			scope, err := normalizer.ScopeForNetwork(c.String("network"))
			if err != nil {
				return err
			}
			norm, err := newNormalizer(c)
			if err != nil {
				return err
			}

			records, err := loadRecords(c.String("file"))
			if err != nil {
				return err
			}

			results := norm.NormalizeAll(context.Background(), records, c.String("address"), scope)
			out := make([]normalizeOutput, 0, len(results))
			for _, res := range results {
				out = append(out, normalizeOutput{Outcome: res.Outcome, Transaction: res.Transaction})
			}
			return output(c, out, nil)
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Fetch a transaction over RPC and normalize it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "signature",
				Aliases:  []string{"s"},
				Usage:    "Transaction signature",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Observed account address (required unless --raw)",
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC URL (defaults to the public endpoint of --network)",
				EnvVars: []string{"SOLANA_RPC_URL"},
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print the raw record instead of normalizing it",
			},
			&cli.StringFlag{
				Name:  "dust-threshold",
				Usage: "Minimum native amount a receive must carry",
				Value: normalizer.DefaultDustThreshold.String(),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the RPC node",
				Value: 30 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			network := c.String("network")
			scope, err := normalizer.ScopeForNetwork(network)
			if err != nil {
				return err
			}
			sig, err := solanago.SignatureFromBase58(c.String("signature"))
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}
			address := c.String("address")
			if address == "" && !c.Bool("raw") {
				return fmt.Errorf("--address is required to normalize")
			}

			rpcURL := c.String("rpc-url")
			if rpcURL == "" {
				rpcURL = defaultRPCURLs[network]
			}
			client := solana.NewClient(solana.NewRPCClient(rpcURL), network, nil, cliLogger())

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			rec, err := client.FetchRecord(ctx, sig)
			if err != nil {
				return err
			}
			if c.Bool("raw") {
				return output(c, rec, nil)
			}

			norm, err := newNormalizer(c)
			if err != nil {
				return err
			}
			res := norm.Evaluate(rec, address, scope)
			return output(c, normalizeOutput{Outcome: res.Outcome, Transaction: res.Transaction}, func(w io.Writer) error {
				return printTransaction(w, res)
			})
		},
	}
}

func newNormalizer(c *cli.Context) (*normalizer.Normalizer, error) {
	opts := normalizer.DefaultOptions()
	if v := c.String("dust-threshold"); v != "" {
		threshold, err := parsePositiveDecimal(v)
		if err != nil {
			return nil, fmt.Errorf("invalid dust threshold: %w", err)
		}
		opts.DustThreshold = threshold
	}
	return normalizer.New(opts, cliLogger()), nil
}

func parsePositiveDecimal(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// loadRecords reads one raw record or an array of them from path.
func loadRecords(path string) ([]*normalizer.RawTransactionRecord, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return decodeRecords(data)
}

func decodeRecords(data []byte) ([]*normalizer.RawTransactionRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("no records found")
	}
	if trimmed[0] == '[' {
		var records []*normalizer.RawTransactionRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("failed to decode records: %w", err)
		}
		return records, nil
	}
	var rec normalizer.RawTransactionRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return []*normalizer.RawTransactionRecord{&rec}, nil
}

func printTransaction(w io.Writer, res normalizer.Result) error {
	if res.Transaction == nil {
		_, err := fmt.Fprintf(w, "No transaction emitted (%s)\n", res.Outcome)
		return err
	}
	txn := res.Transaction
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Signature:\t%s\n", txn.ID)
	fmt.Fprintf(tw, "Account:\t%s\n", txn.Account)
	fmt.Fprintf(tw, "Chain:\t%s\n", txn.Scope)
	fmt.Fprintf(tw, "Type:\t%s\n", txn.Type)
	fmt.Fprintf(tw, "Status:\t%s\n", txn.Status)
	if txn.Timestamp != nil {
		fmt.Fprintf(tw, "Block Time:\t%s\n", txn.BlockTime().Format(time.RFC3339))
	}
	for _, m := range txn.From {
		fmt.Fprintf(tw, "From:\t%s\t-%s %s\n", m.Address, m.Amount, m.Unit)
	}
	for _, m := range txn.To {
		fmt.Fprintf(tw, "To:\t%s\t+%s %s\n", m.Address, m.Amount, m.Unit)
	}
	for _, f := range txn.Fees {
		fmt.Fprintf(tw, "Fee (%s):\t%s %s\n", f.Kind, f.Amount, f.Unit)
	}
	return tw.Flush()
}
