// README: Settings for the scenario bench; shares the server's backend and policy keys so both read one .env.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Bench configures cmd/bench. The target API must run with DISPATCH_DEV_AUTH.
type Bench struct {
	BaseURL string
	// DSN and RedisAddr are the server's journal and Redis; empty skips those cases.
	DSN       string
	RedisAddr string

	MigrationPath  string
	ApplyMigration bool

	// MaxActiveOrders must match the server's cap for the capacity case.
	MaxActiveOrders int

	Strict      bool
	Timeout     time.Duration
	Concurrency int
	Duration    time.Duration
}

// LoadBench reads an optional .env and the bench overrides. It never fails: every
// value has a usable default.
func LoadBench() Bench {
	_ = godotenv.Load()

	return Bench{
		BaseURL:         strings.TrimRight(envOrDefault("DISPATCH_BENCH_BASE_URL", baseURLFromAddr(envOrDefault("DISPATCH_HTTP_ADDR", ":8080"))), "/"),
		DSN:             envOrDefault("DISPATCH_JOURNAL_DSN", ""),
		RedisAddr:       envOrDefault("DISPATCH_REDIS_ADDR", ""),
		MigrationPath:   envOrDefault("DISPATCH_BENCH_MIGRATION", "migrations/0001_init.sql"),
		ApplyMigration:  envOrDefaultBool("DISPATCH_BENCH_APPLY_MIGRATION", false),
		MaxActiveOrders: envOrDefaultInt("DISPATCH_MAX_ACTIVE_ORDERS", 7),
		Strict:          envOrDefaultBool("DISPATCH_BENCH_STRICT", false),
		Timeout:         envOrDefaultDuration("DISPATCH_BENCH_TIMEOUT", 90*time.Second),
		Concurrency:     envOrDefaultInt("DISPATCH_BENCH_CONCURRENCY", 20),
		Duration:        envOrDefaultDuration("DISPATCH_BENCH_DURATION", 10*time.Second),
	}
}

// baseURLFromAddr turns a listen address like ":8080" or "0.0.0.0:9000" into a URL the
// bench can dial on this host.
func baseURLFromAddr(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	host, port, ok := strings.Cut(addr, ":")
	if !ok {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + host + ":" + port
}
