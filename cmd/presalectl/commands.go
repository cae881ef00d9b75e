package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/alien88ted/presale-monitor/client"
)

func serverFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Value:   "http://localhost:8080",
		Usage:   "HTTP server URL",
		EnvVars: []string{"PRESALE_MONITOR_ENDPOINT"},
	}
}

func filterFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "filter",
		Aliases: []string{"f"},
		Usage:   "jq expression applied to the JSON output (e.g. '.metrics.total_usd')",
	}
}

func timeoutFlag() *cli.DurationFlag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Value: 30 * time.Second,
		Usage: "Request timeout",
	}
}

func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server"), nil, logger)
}

func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.Duration("timeout"))
}

// printResult marshals v and prints it, optionally piping it through a
// compiled jq filter first.
func printResult(v any, filterExpr string) error {
	if filterExpr == "" {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	results, err := applyFilter(v, filterExpr)
	if err != nil {
		return err
	}
	for _, out := range results {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal filtered output: %w", err)
		}
		fmt.Println(string(data))
	}
	return nil
}

// applyFilter runs a jq expression over v and collects the results.
func applyFilter(v any, filterExpr string) ([]any, error) {
	query, err := gojq.Parse(filterExpr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filterExpr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filterExpr, err)
	}

	// gojq operates on plain interface{} values, so round-trip through JSON.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}

	var results []any
	iter := code.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := out.(error); isErr {
			return nil, fmt.Errorf("jq filter error: %w", err)
		}
		results = append(results, out)
	}
	return results, nil
}

func metricsCommand() *cli.Command {
	return &cli.Command{
		Name:  "metrics",
		Usage: "Fetch the aggregate metrics snapshot",
		Flags: []cli.Flag{
			serverFlag(),
			filterFlag(),
			timeoutFlag(),
			&cli.BoolFlag{
				Name:    "refresh",
				Aliases: []string{"r"},
				Usage:   "Force a recomputation instead of serving from cache",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			result, err := newClient(c).GetMetrics(ctx, c.Bool("refresh"))
			if err != nil {
				return fmt.Errorf("failed to fetch metrics: %w", err)
			}
			return printResult(result, c.String("filter"))
		},
	}
}

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "transactions",
		Aliases: []string{"txs"},
		Usage:   "List classified transactions, newest first",
		Flags: []cli.Flag{
			serverFlag(),
			filterFlag(),
			timeoutFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   100,
				Usage:   "Maximum number of transactions to return (1-1000)",
			},
			&cli.StringFlag{
				Name:    "before",
				Aliases: []string{"b"},
				Usage:   "Pagination cursor from a previous page's next_before",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			page, err := newClient(c).ListTransactions(ctx, c.Int("limit"), c.String("before"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			return printResult(page, c.String("filter"))
		},
	}
}

func contributorsCommand() *cli.Command {
	return &cli.Command{
		Name:    "contributors",
		Aliases: []string{"leaderboard"},
		Usage:   "Show the contributor leaderboard",
		Flags: []cli.Flag{
			serverFlag(),
			filterFlag(),
			timeoutFlag(),
			&cli.Float64Flag{
				Name:  "min-usd",
				Usage: "Only include contributors at or above this USD total",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of contributors to return",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			contributors, err := newClient(c).TopContributors(ctx, c.Float64("min-usd"), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to fetch contributors: %w", err)
			}
			return printResult(contributors, c.String("filter"))
		},
	}
}

func diagnosticsCommand() *cli.Command {
	return &cli.Command{
		Name:    "diagnostics",
		Aliases: []string{"diag"},
		Usage:   "Fetch the full diagnostics report",
		Flags: []cli.Flag{
			serverFlag(),
			filterFlag(),
			timeoutFlag(),
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			report, err := newClient(c).Diagnostics(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch diagnostics: %w", err)
			}
			return printResult(report, c.String("filter"))
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			serverFlag(),
			filterFlag(),
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 5 * time.Second,
				Usage: "Request timeout",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := commandContext(c)
			defer cancel()

			health, err := newClient(c).Health(ctx)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			if err := printResult(health, c.String("filter")); err != nil {
				return err
			}
			if health.Status == "unhealthy" {
				return fmt.Errorf("server is unhealthy")
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Printf("presalectl\n")
			fmt.Printf("  Version: %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", date)
			return nil
		},
	}
}
