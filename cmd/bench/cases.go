// README: Bench cases: environment checks, dispatch scenarios over HTTP and websocket, race and load checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/config"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   config.Bench
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	run   string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg config.Bench) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		start := time.Now()
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		if res.Latency == 0 {
			res.Latency = time.Since(start).Round(time.Millisecond)
		}
		results = append(results, res)
		fmt.Printf("%-5s %s (%s)", res.Status, tc.Name, res.Latency)
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: journal Postgres connect", Run: envPostgres},
		{Name: "Env: Redis connect", Run: envRedis},
		{Name: "Journal: apply migration (optional)", Run: applyMigration},
		{Name: "Journal: tables exist", Run: journalTables},
		{Name: "API: health", Run: health},
		{Name: "Flow: immediate delivery end to end", Run: immediateFlow},
		{Name: "Flow: declined tomorrow claim returns to pool", Run: tomorrowDecline},
		{Name: "Flow: start tomorrow order respects active cap", Run: capacityCap},
		{Name: "Flow: dismiss is per rider and reopen clears it", Run: dismissIsolation},
		{Name: "Live: dashboard pending pool over websocket", Run: dashboardStream},
		{Name: "Location: nearby riders", Run: nearbyRiders},
		{Name: "Race: concurrent accepts of one order", Run: concurrentAccept},
		{Name: "Load: location update throughput", Run: locationLoad},
	}
}

func pass(note string) Result         { return Result{Status: statusPass, Note: note} }
func skip(note string) Result         { return Result{Status: statusSkip, Note: note} }
func fail(err error) Result           { return Result{Status: statusFail, Note: err.Error()} }
func failf(f string, a ...any) Result { return Result{Status: statusFail, Note: fmt.Sprintf(f, a...)} }

func envPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return skip("no journal DSN")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return fail(err)
	}
	return pass("")
}

func envRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return skip("no redis address")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return fail(err)
	}
	return pass("")
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return skip("apply-migration=false")
	}
	if r.db == nil {
		return skip("no journal DSN")
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return fail(err)
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return fail(err)
		}
	}
	return pass("")
}

func journalTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return skip("no journal DSN")
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return fail(err)
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
		).Scan(&exists)
		if err != nil {
			return fail(err)
		}
		if !exists {
			return failf("missing table: %s", t)
		}
	}
	return pass(fmt.Sprintf("%d tables", len(tables)))
}

func health(ctx context.Context, r *Runner) Result {
	res, err := r.call(ctx, http.MethodGet, "/health", "", nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	return pass("")
}

func immediateFlow(ctx context.Context, r *Runner) Result {
	customer, rider := r.customer("e2e"), r.rider("e2e")
	if err := r.register(ctx, customer, rider); err != nil {
		return fail(err)
	}
	id, err := r.createOrder(ctx, customer)
	if err != nil {
		return fail(err)
	}
	steps := []struct {
		path string
		body any
		want string
	}{
		{"/api/rider/orders/" + id + "/accept", nil, "accepted"},
		{"/api/rider/orders/" + id + "/status", map[string]string{"status": "on_the_way"}, "on_the_way"},
		{"/api/rider/orders/" + id + "/status", map[string]string{"status": "arrived"}, "arrived"},
		{"/api/rider/orders/" + id + "/status", map[string]string{"status": "completed"}, "completed"},
	}
	for _, s := range steps {
		res, err := r.call(ctx, http.MethodPost, s.path, rider, s.body)
		if err := expect(res, err, http.StatusOK); err != nil {
			return fail(err)
		}
		if got := res.str("status"); got != s.want {
			return failf("%s: status %q, want %q", s.path, got, s.want)
		}
	}

	res, err := r.call(ctx, http.MethodGet, "/api/rider/history/"+id, rider, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	if !res.bool("coinDeducted") {
		return failf("completed order not settled")
	}
	res, err = r.call(ctx, http.MethodPost, "/api/orders/"+id+"/rate", customer, map[string]int{"stars": 5})
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodPost, "/api/orders/"+id+"/rate", customer, map[string]int{"stars": 5})
	if err := expect(res, err, http.StatusConflict); err != nil {
		return fail(err)
	}

	if r.db != nil {
		var n int
		if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM order_state_events WHERE order_id=$1", id).Scan(&n); err != nil {
			return fail(err)
		}
		if n < 5 {
			return failf("journal has %d events, want 5", n)
		}
		return pass(fmt.Sprintf("order=%s journal=%d", id, n))
	}
	return pass("order=" + id)
}

func tomorrowDecline(ctx context.Context, r *Runner) Result {
	customer, rider := r.customer("decline"), r.rider("decline")
	if err := r.register(ctx, customer, rider); err != nil {
		return fail(err)
	}
	id, err := r.createOrder(ctx, customer)
	if err != nil {
		return fail(err)
	}
	res, err := r.call(ctx, http.MethodPost, "/api/rider/orders/"+id+"/accept?timing=tomorrow", rider, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	if res.str("status") != "pending_confirmation" {
		return failf("claim status %q", res.str("status"))
	}
	res, err = r.call(ctx, http.MethodPost, "/api/orders/"+id+"/claim", customer, map[string]bool{"accepted": false})
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodGet, "/api/orders/"+id, customer, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	if res.str("status") != "pending" || res.str("pickupSchedule") != "now" || res.Body["tempRiderId"] != nil {
		return failf("declined order: status=%s schedule=%s temp=%v", res.str("status"), res.str("pickupSchedule"), res.Body["tempRiderId"])
	}
	return pass("")
}

func capacityCap(ctx context.Context, r *Runner) Result {
	customer, rider := r.customer("cap"), r.rider("cap")
	if err := r.register(ctx, customer, rider); err != nil {
		return fail(err)
	}
	var first string
	for i := 0; i < r.cfg.MaxActiveOrders; i++ {
		id, err := r.createOrder(ctx, customer)
		if err != nil {
			return fail(err)
		}
		if first == "" {
			first = id
		}
		res, err := r.call(ctx, http.MethodPost, "/api/rider/orders/"+id+"/accept", rider, nil)
		if err := expect(res, err, http.StatusOK); err != nil {
			return fail(err)
		}
	}
	later, err := r.createOrder(ctx, customer)
	if err != nil {
		return fail(err)
	}
	res, err := r.call(ctx, http.MethodPost, "/api/rider/orders/"+later+"/accept?timing=tomorrow", rider, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodPost, "/api/orders/"+later+"/claim", customer, map[string]bool{"accepted": true})
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodPost, "/api/rider/orders/"+later+"/start", rider, nil)
	if err := expect(res, err, http.StatusUnprocessableEntity); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodPost, "/api/rider/orders/"+first+"/reject", rider, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodPost, "/api/rider/orders/"+later+"/start", rider, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	return pass(fmt.Sprintf("cap=%d", r.cfg.MaxActiveOrders))
}

func dismissIsolation(ctx context.Context, r *Runner) Result {
	customer, rider, other := r.customer("dismiss"), r.rider("dismiss"), r.rider("dismiss_other")
	if err := r.register(ctx, customer, rider, other); err != nil {
		return fail(err)
	}
	id, err := r.createOrder(ctx, customer)
	if err != nil {
		return fail(err)
	}
	res, err := r.call(ctx, http.MethodPost, "/api/rider/orders/"+id+"/accept", rider, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodPost, "/api/orders/"+id+"/cancel", customer, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodPost, "/api/rider/orders/"+id+"/dismiss", other, nil)
	if err := expect(res, err, http.StatusForbidden); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodPost, "/api/rider/orders/"+id+"/dismiss", rider, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodPost, "/api/orders/"+id+"/reopen", customer, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodGet, "/api/orders/"+id, customer, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	if res.bool("riderDismissed") || res.Body["riderId"] != nil {
		return failf("reopened order still carries the old rider")
	}
	return pass("")
}

func dashboardStream(ctx context.Context, r *Runner) Result {
	customer, rider := r.customer("live"), r.rider("live")
	if err := r.register(ctx, customer, rider); err != nil {
		return fail(err)
	}
	u, err := url.Parse(r.cfg.BaseURL + "/ws/rider/dashboard")
	if err != nil {
		return fail(err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.RawQuery = url.Values{"access_token": {rider}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	start := time.Now()
	id, err := r.createOrder(ctx, customer)
	if err != nil {
		return fail(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var frame struct {
			View   string `json:"view"`
			Orders []struct {
				ID string `json:"id"`
			} `json:"orders"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return fail(err)
		}
		if frame.View != "pending_pool" {
			continue
		}
		for _, o := range frame.Orders {
			if o.ID == id {
				return Result{Status: statusPass, Latency: time.Since(start), Note: "order visible in pool"}
			}
		}
	}
}

func nearbyRiders(ctx context.Context, r *Runner) Result {
	customer, rider := r.customer("nearby"), r.rider("nearby")
	if err := r.register(ctx, customer, rider); err != nil {
		return fail(err)
	}
	res, err := r.call(ctx, http.MethodPut, "/api/rider/location", rider, map[string]any{"name": "bench", "lat": 16.8409, "lng": 96.1735})
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodPut, "/api/rider/location", rider, map[string]any{"lat": 123.0, "lng": 456.0})
	if err := expect(res, err, http.StatusBadRequest); err != nil {
		return fail(err)
	}
	res, err = r.call(ctx, http.MethodGet, "/api/riders/nearby?lat=16.84&lng=96.17&radius_km=2", customer, nil)
	if err := expect(res, err, http.StatusOK); err != nil {
		return fail(err)
	}
	uid, _, _ := strings.Cut(rider, ":")
	if !bytes.Contains(res.Raw, []byte(uid)) {
		return failf("rider %s missing from nearby list", uid)
	}
	res, err = r.call(ctx, http.MethodDelete, "/api/rider/location", rider, nil)
	if err := expect(res, err, http.StatusNoContent); err != nil {
		return fail(err)
	}
	return pass("")
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	customer := r.customer("race")
	riders := make([]string, r.cfg.Concurrency)
	for i := range riders {
		riders[i] = r.rider(fmt.Sprintf("race%d", i))
	}
	if err := r.register(ctx, append([]string{customer}, riders...)...); err != nil {
		return fail(err)
	}
	id, err := r.createOrder(ctx, customer)
	if err != nil {
		return fail(err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		succ     int
		conflict int
	)
	for _, rider := range riders {
		wg.Add(1)
		go func(rider string) {
			defer wg.Done()
			res, err := r.call(ctx, http.MethodPost, "/api/rider/orders/"+id+"/accept", rider, nil)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch res.Code {
			case http.StatusOK:
				succ++
			case http.StatusConflict:
				conflict++
			}
		}(rider)
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d", succ, conflict)
	if succ != 1 {
		return Result{Status: statusFail, Note: note + " (legacy consistency allows this)"}
	}
	return pass(note)
}

func locationLoad(ctx context.Context, r *Runner) Result {
	riders := make([]string, r.cfg.Concurrency)
	for i := range riders {
		riders[i] = r.rider(fmt.Sprintf("load%d", i))
	}
	if err := r.register(ctx, riders...); err != nil {
		return fail(err)
	}

	end := time.Now().Add(r.cfg.Duration)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		written   int
		throttled int
		errCount  int
	)
	for i, rider := range riders {
		wg.Add(1)
		go func(i int, rider string) {
			defer wg.Done()
			lat := 16.80 + float64(i)*0.001
			for time.Now().Before(end) && ctx.Err() == nil {
				res, err := r.call(ctx, http.MethodPut, "/api/rider/location", rider, map[string]any{"lat": lat, "lng": 96.15})
				mu.Lock()
				switch {
				case err != nil || res.Code != http.StatusOK:
					errCount++
				case res.bool("accepted"):
					written++
				default:
					throttled++
				}
				mu.Unlock()
				lat += 0.0001
			}
		}(i, rider)
	}
	wg.Wait()

	total := written + throttled
	if total == 0 {
		return failf("no requests completed (errors=%d)", errCount)
	}
	rps := float64(total) / r.cfg.Duration.Seconds()
	return pass(fmt.Sprintf("rps=%.1f written=%d throttled=%d errors=%d", rps, written, throttled, errCount))
}

// customer and rider mint dev-auth tokens unique to this run.
func (r *Runner) customer(name string) string { return "c_" + name + "_" + r.run + ":customer" }
func (r *Runner) rider(name string) string    { return "r_" + name + "_" + r.run + ":rider" }

func (r *Runner) register(ctx context.Context, tokens ...string) error {
	for _, tok := range tokens {
		uid, role, _ := strings.Cut(tok, ":")
		res, err := r.call(ctx, http.MethodPost, "/api/users/register", tok, map[string]string{
			"phone": "09000000000",
			"role":  role,
			"name":  uid,
		})
		if err := expect(res, err, http.StatusCreated); err != nil {
			return fmt.Errorf("register %s: %w", uid, err)
		}
	}
	return nil
}

// createOrder submits a zero-fee order so freshly registered riders pass the balance gate.
func (r *Runner) createOrder(ctx context.Context, customer string) (string, error) {
	res, err := r.call(ctx, http.MethodPost, "/api/orders", customer, map[string]any{
		"customerName":  "bench",
		"customerPhone": "09000000000",
		"item":          "bench parcel",
		"weight":        1,
		"deliveryFee":   0,
		"pickup":        map[string]any{"address": "Sule", "lat": 16.7745, "lng": 96.1588},
		"dropoff":       map[string]any{"address": "Hledan", "lat": 16.8240, "lng": 96.1297},
	})
	if err := expect(res, err, http.StatusCreated); err != nil {
		return "", err
	}
	id := res.str("orderId")
	if id == "" {
		return "", errors.New("create: empty orderId")
	}
	return id, nil
}

type apiResponse struct {
	Code int
	Body map[string]any
	Raw  []byte
}

func (a apiResponse) str(key string) string {
	s, _ := a.Body[key].(string)
	return s
}

func (a apiResponse) bool(key string) bool {
	b, _ := a.Body[key].(bool)
	return b
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (apiResponse, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apiResponse{}, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return apiResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResponse{}, err
	}
	out := apiResponse{Code: resp.StatusCode, Raw: raw}
	_ = json.Unmarshal(raw, &out.Body)
	return out, nil
}

func expect(res apiResponse, err error, code int) error {
	if err != nil {
		return err
	}
	if res.Code != code {
		return fmt.Errorf("status=%d want %d: %s", res.Code, code, strings.TrimSpace(string(res.Raw)))
	}
	return nil
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
