// README: Scenario runner against a dev-auth dispatch API; prints PASS/FAIL/SKIP per case.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"dispatch/internal/config"
)

func main() {
	cfg := parseFlags(config.LoadBench())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	results := NewRunner(cfg).RunAll(ctx)
	counts := tally(results)

	fmt.Println("\n== Summary ==")
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", counts[statusPass], counts[statusFail], counts[statusSkip])
	if counts[statusFail] > 0 {
		for _, r := range results {
			if r.Status == statusFail {
				fmt.Printf("  failed: %s: %s\n", r.Name, r.Note)
			}
		}
	}
	if counts[statusFail] > 0 || (cfg.Strict && counts[statusSkip] > 0) {
		os.Exit(1)
	}
}

// parseFlags lets command-line flags override the environment-derived settings.
func parseFlags(cfg config.Bench) config.Bench {
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "dispatch API base URL")
	flag.StringVar(&cfg.DSN, "dsn", cfg.DSN, "journal Postgres DSN; empty skips journal cases")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address; empty skips the Redis case")
	flag.StringVar(&cfg.MigrationPath, "migration", cfg.MigrationPath, "journal migration SQL path")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", cfg.ApplyMigration, "apply the migration before the cases")
	flag.IntVar(&cfg.MaxActiveOrders, "max-active", cfg.MaxActiveOrders, "server's active order cap")
	flag.BoolVar(&cfg.Strict, "strict", cfg.Strict, "treat skipped cases as failures")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "riders in the race and load cases")
	flag.DurationVar(&cfg.Duration, "duration", cfg.Duration, "length of the location load case")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func tally(results []Result) map[string]int {
	counts := make(map[string]int, 3)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}
