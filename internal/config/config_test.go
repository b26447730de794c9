package config

import (
	"testing"
	"time"
)

func TestLoadMemoryDefaults(t *testing.T) {
	t.Setenv("DISPATCH_STORE", "memory")
	t.Setenv("DISPATCH_DEV_AUTH", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Dispatch.MaxActiveOrders != 7 {
		t.Errorf("max active = %d, want 7", cfg.Dispatch.MaxActiveOrders)
	}
	if cfg.Dispatch.Consistency != "transactional" {
		t.Errorf("consistency = %q", cfg.Dispatch.Consistency)
	}
	if cfg.Redis.ThrottleWindow != 2*time.Second {
		t.Errorf("throttle = %s", cfg.Redis.ThrottleWindow)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DISPATCH_STORE", "memory")
	t.Setenv("DISPATCH_DEV_AUTH", "1")
	t.Setenv("DISPATCH_CONSISTENCY", "LEGACY")
	t.Setenv("DISPATCH_MAX_ACTIVE_ORDERS", "3")
	t.Setenv("DISPATCH_CORS_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatch.Consistency != "legacy" {
		t.Errorf("consistency = %q", cfg.Dispatch.Consistency)
	}
	if cfg.Dispatch.MaxActiveOrders != 3 {
		t.Errorf("max active = %d", cfg.Dispatch.MaxActiveOrders)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors origins = %v", cfg.HTTP.CORSOrigins)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"firestore without project", map[string]string{"DISPATCH_STORE": "firestore"}},
		{"unknown store", map[string]string{"DISPATCH_STORE": "mysql", "DISPATCH_DEV_AUTH": "true"}},
		{"unknown consistency", map[string]string{"DISPATCH_STORE": "memory", "DISPATCH_DEV_AUTH": "true", "DISPATCH_CONSISTENCY": "eventual"}},
		{"zero cap", map[string]string{"DISPATCH_STORE": "memory", "DISPATCH_DEV_AUTH": "true", "DISPATCH_MAX_ACTIVE_ORDERS": "0"}},
		{"memory without auth", map[string]string{"DISPATCH_STORE": "memory"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DISPATCH_FIREBASE_PROJECT_ID", "")
			t.Setenv("DISPATCH_DEV_AUTH", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadBenchSharesServerKeys(t *testing.T) {
	t.Setenv("DISPATCH_BENCH_BASE_URL", "")
	t.Setenv("DISPATCH_HTTP_ADDR", ":9090")
	t.Setenv("DISPATCH_JOURNAL_DSN", "postgres://bench@localhost/dispatch")
	t.Setenv("DISPATCH_REDIS_ADDR", "localhost:6380")
	t.Setenv("DISPATCH_MAX_ACTIVE_ORDERS", "4")
	t.Setenv("DISPATCH_BENCH_DURATION", "3s")

	b := LoadBench()
	if b.BaseURL != "http://localhost:9090" {
		t.Errorf("base url = %q", b.BaseURL)
	}
	if b.DSN != "postgres://bench@localhost/dispatch" || b.RedisAddr != "localhost:6380" {
		t.Errorf("backends = %q %q", b.DSN, b.RedisAddr)
	}
	if b.MaxActiveOrders != 4 {
		t.Errorf("max active = %d", b.MaxActiveOrders)
	}
	if b.Duration != 3*time.Second || b.Timeout != 90*time.Second {
		t.Errorf("durations = %s %s", b.Duration, b.Timeout)
	}
}

func TestBaseURLFromAddr(t *testing.T) {
	tests := []struct {
		addr, want string
	}{
		{":8080", "http://localhost:8080"},
		{"0.0.0.0:9000", "http://localhost:9000"},
		{"api.internal:80", "http://api.internal:80"},
		{"https://dispatch.example.com", "https://dispatch.example.com"},
	}
	for _, tt := range tests {
		if got := baseURLFromAddr(tt.addr); got != tt.want {
			t.Errorf("baseURLFromAddr(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
