// README: Config loader with env defaults for HTTP, store, Firebase, Redis, journal DB, notifications and dispatch policy.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

// DispatchConfig holds the order-engine policy knobs.
type DispatchConfig struct {
	// Consistency is "transactional" or "legacy".
	Consistency     string
	MaxActiveOrders int
	RequireBalance  bool
}

type NotifyConfig struct {
	ChatURL     string
	ChatID      string
	SheetURL    string
	PushEnabled bool
	Timeout     time.Duration
}

type Config struct {
	HTTP struct {
		Addr        string
		CORSOrigins []string
	}
	Log struct {
		Level  string
		Format string
	}
	Store struct {
		Backend string
	}
	Firebase struct {
		ProjectID       string
		CredentialsFile string
		DevAuth         bool
	}
	Redis struct {
		Addr           string
		ThrottleWindow time.Duration
	}
	DB struct {
		DSN string
	}
	Maps struct {
		APIKey string
	}
	Notify   NotifyConfig
	Dispatch DispatchConfig
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	cfg.HTTP.Addr = envOrDefault("DISPATCH_HTTP_ADDR", ":8080")
	cfg.HTTP.CORSOrigins = envList("DISPATCH_CORS_ORIGINS", []string{"http://localhost:5173"})
	cfg.Log.Level = envOrDefault("LOG_LEVEL", "info")
	cfg.Log.Format = envOrDefault("LOG_FORMAT", "json")
	cfg.Store.Backend = strings.ToLower(envOrDefault("DISPATCH_STORE", StoreFirestore))
	cfg.Firebase.ProjectID = os.Getenv("DISPATCH_FIREBASE_PROJECT_ID")
	cfg.Firebase.CredentialsFile = os.Getenv("DISPATCH_FIREBASE_CREDENTIALS")
	cfg.Firebase.DevAuth = envOrDefaultBool("DISPATCH_DEV_AUTH", false)
	cfg.Redis.Addr = os.Getenv("DISPATCH_REDIS_ADDR")
	cfg.Redis.ThrottleWindow = envOrDefaultDuration("DISPATCH_LOCATION_THROTTLE", 2*time.Second)
	cfg.DB.DSN = os.Getenv("DISPATCH_JOURNAL_DSN")
	cfg.Maps.APIKey = os.Getenv("DISPATCH_MAPS_API_KEY")
	cfg.Notify.ChatURL = os.Getenv("DISPATCH_CHAT_WEBHOOK_URL")
	cfg.Notify.ChatID = os.Getenv("DISPATCH_CHAT_ID")
	cfg.Notify.SheetURL = os.Getenv("DISPATCH_SHEET_WEBHOOK_URL")
	cfg.Notify.PushEnabled = envOrDefaultBool("DISPATCH_PUSH_ENABLED", false)
	cfg.Notify.Timeout = envOrDefaultDuration("DISPATCH_NOTIFY_TIMEOUT", 5*time.Second)
	cfg.Dispatch.Consistency = strings.ToLower(envOrDefault("DISPATCH_CONSISTENCY", "transactional"))
	cfg.Dispatch.MaxActiveOrders = envOrDefaultInt("DISPATCH_MAX_ACTIVE_ORDERS", 7)
	cfg.Dispatch.RequireBalance = envOrDefaultBool("DISPATCH_REQUIRE_BALANCE", true)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case StoreFirestore:
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("DISPATCH_FIREBASE_PROJECT_ID is required for the firestore backend")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown DISPATCH_STORE %q", c.Store.Backend)
	}
	switch c.Dispatch.Consistency {
	case "transactional", "legacy":
	default:
		return fmt.Errorf("unknown DISPATCH_CONSISTENCY %q", c.Dispatch.Consistency)
	}
	if c.Dispatch.MaxActiveOrders <= 0 {
		return fmt.Errorf("DISPATCH_MAX_ACTIVE_ORDERS must be positive")
	}
	if !c.Firebase.DevAuth && c.Firebase.ProjectID == "" {
		return fmt.Errorf("DISPATCH_FIREBASE_PROJECT_ID is required unless DISPATCH_DEV_AUTH is set")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
