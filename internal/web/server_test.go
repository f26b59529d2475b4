package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/stockfeed/internal/config"
	"github.com/JonMunkholm/stockfeed/internal/core"
	"github.com/JonMunkholm/stockfeed/internal/inventory"
	"github.com/JonMunkholm/stockfeed/internal/overrides"
	"github.com/JonMunkholm/stockfeed/internal/source"
)

const (
	testAPIKey = "staff-key"

	testSheet = "Model,SKU,Part Number,Description,Qty,Location,Price\n" +
		"BMW,A1,,Wheel,5,A1,10\n" +
		"Audi,B2,,Hood,10,B1,2\n"
)

type stubFetcher struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, sourceID string) (source.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return source.Result{}, f.err
	}
	return source.Result{Text: f.text, Strategy: source.StrategyDirect, Bytes: int64(len(f.text))}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Security: config.SecurityConfig{
			RequireAPIKey: true,
			APIKeys:       []string{testAPIKey},
		},
	}
}

type testEnv struct {
	server  *Server
	service *core.Service
	fetcher *stubFetcher
	store   *overrides.MemoryStore
}

// newTestEnv builds a server over an in-memory override store. When loaded
// is true the first snapshot is committed before returning.
func newTestEnv(t *testing.T, cfg *config.Config, loaded bool, opts ...Option) *testEnv {
	t.Helper()

	fetcher := &stubFetcher{text: testSheet}
	store := overrides.NewMemoryStore()
	svc := core.NewService(core.ServiceConfig{
		SourceID:      "sheet",
		MaxConcurrent: 1,
		MaxWait:       100 * time.Millisecond,
	}, fetcher, store)

	if loaded {
		if _, err := svc.Refresh(context.Background(), core.TriggerStartup); err != nil {
			t.Fatalf("initial refresh: %v", err)
		}
	}

	s := NewServer(cfg, svc, opts...)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return &testEnv{server: s, service: svc, fetcher: fetcher, store: store}
}

func (e *testEnv) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Accept", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandleInventory(t *testing.T) {
	env := newTestEnv(t, testConfig(), true)

	tests := []struct {
		name    string
		target  string
		wantIDs []string
	}{
		{"all records", "/api/inventory", []string{"A1", "B2"}},
		{"category filter", "/api/inventory?category=audi", []string{"B2"}},
		{"status filter", "/api/inventory?status=Low+Stock", []string{"A1"}},
		{"text filter", "/api/inventory?q=wheel", []string{"A1"}},
		{"no match", "/api/inventory?location=Z9", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.target, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			resp := decode[InventoryResponse](t, rec)
			if resp.Count != len(tt.wantIDs) {
				t.Fatalf("count = %d, want %d", resp.Count, len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if resp.Records[i].ID != id {
					t.Errorf("record %d = %q, want %q", i, resp.Records[i].ID, id)
				}
			}
			if resp.Stats.TotalItems != 2 {
				t.Errorf("stats cover %d items, want 2 regardless of filter", resp.Stats.TotalItems)
			}
		})
	}
}

func TestHandleInventory_NotLoaded(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)

	for _, target := range []string{"/api/inventory", "/api/stats", "/api/snapshot", "/api/export"} {
		t.Run(target, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, target, "")
			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("status = %d, want 503", rec.Code)
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != "DATA001" {
				t.Errorf("code = %q, want DATA001", resp.Code)
			}
		})
	}
}

func TestHandleStats(t *testing.T) {
	env := newTestEnv(t, testConfig(), true)

	rec := env.do(t, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	st := decode[inventory.Stats](t, rec)
	if st.TotalItems != 2 || st.TotalValue != 70 || st.LowStock != 1 || st.OutOfStock != 0 {
		t.Errorf("stats = %+v", st)
	}
	if st.Categories["BMW"] != 1 || st.Categories["Audi"] != 1 {
		t.Errorf("categories = %v", st.Categories)
	}
}

func TestHandleSnapshot(t *testing.T) {
	env := newTestEnv(t, testConfig(), true)

	rec := env.do(t, http.MethodGet, "/api/snapshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	info := decode[core.SnapshotInfo](t, rec)
	if info.Records != 2 || info.Strategy != source.StrategyDirect || info.Trigger != core.TriggerStartup {
		t.Errorf("snapshot info = %+v", info)
	}
	if info.Columns["sku"] != "B" {
		t.Errorf("sku column = %q, want B", info.Columns["sku"])
	}
}

func TestHandleRefresh(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		env := newTestEnv(t, testConfig(), true)
		rec := env.do(t, http.MethodPost, "/api/refresh", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("commits new snapshot", func(t *testing.T) {
		env := newTestEnv(t, testConfig(), true)
		env.fetcher.mu.Lock()
		env.fetcher.text = testSheet + "VW,C3,,Mirror,0,C1,4\n"
		env.fetcher.mu.Unlock()

		rec := env.do(t, http.MethodPost, "/api/refresh", "", "X-API-Key", testAPIKey)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		info := decode[core.SnapshotInfo](t, rec)
		if info.Records != 3 || info.Trigger != core.TriggerManual {
			t.Errorf("snapshot info = %+v", info)
		}
	})

	t.Run("failed fetch keeps previous snapshot", func(t *testing.T) {
		env := newTestEnv(t, testConfig(), true)
		before, _ := env.service.Store().Current()
		env.fetcher.mu.Lock()
		env.fetcher.err = fmt.Errorf("%w: all strategies failed", source.ErrUnavailable)
		env.fetcher.mu.Unlock()

		rec := env.do(t, http.MethodPost, "/api/refresh", "", "X-API-Key", testAPIKey)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
		if resp := decode[ErrorResponse](t, rec); resp.Code != "SRC001" {
			t.Errorf("code = %q, want SRC001", resp.Code)
		}
		after, _ := env.service.Store().Current()
		if after.ID != before.ID {
			t.Error("snapshot changed after failed refresh")
		}
	})
}

func TestOverrideEndpoints(t *testing.T) {
	env := newTestEnv(t, testConfig(), true)
	key := []string{"X-API-Key", testAPIKey, "X-Actor", "dana"}

	rec := env.do(t, http.MethodPut, "/api/overrides/A1",
		`{"hidden":false,"hiddenFields":["price"],"imageUrl":"https://cdn.example.com/a1.jpg","note":"promo"}`, key...)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body.String())
	}
	saved := decode[overrides.Override](t, rec)
	if saved.ItemID != "A1" || saved.UpdatedBy != "dana" {
		t.Errorf("saved = %+v", saved)
	}

	rec = env.do(t, http.MethodGet, "/api/inventory?q=A1", "")
	resp := decode[InventoryResponse](t, rec)
	if len(resp.Records) != 1 {
		t.Fatalf("records = %d", len(resp.Records))
	}
	if got := resp.Records[0]; got.Price != 0 || got.ImageURL != "https://cdn.example.com/a1.jpg" {
		t.Errorf("override not applied: price=%v image=%q", got.Price, got.ImageURL)
	}

	rec = env.do(t, http.MethodPut, "/api/overrides/B2", `{"hidden":true}`, key...)
	if rec.Code != http.StatusOK {
		t.Fatalf("hide status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/stats", "")
	if st := decode[inventory.Stats](t, rec); st.TotalItems != 1 {
		t.Errorf("visible items = %d, want 1", st.TotalItems)
	}

	// Staff with a key can still see hidden rows
	rec = env.do(t, http.MethodGet, "/api/inventory?all=true", "", key...)
	if resp := decode[InventoryResponse](t, rec); resp.Count != 2 {
		t.Errorf("all=true count = %d, want 2", resp.Count)
	}
	// Without a key all=true is ignored
	rec = env.do(t, http.MethodGet, "/api/inventory?all=true", "")
	if resp := decode[InventoryResponse](t, rec); resp.Count != 1 {
		t.Errorf("anonymous all=true count = %d, want 1", resp.Count)
	}

	rec = env.do(t, http.MethodGet, "/api/overrides", "", key...)
	if list := decode[[]overrides.Override](t, rec); len(list) != 2 {
		t.Errorf("listed %d overrides, want 2", len(list))
	}

	rec = env.do(t, http.MethodDelete, "/api/overrides/B2", "", key...)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/overrides/B2", "", key...)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/overrides/B2", "", key...)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete missing status = %d, want 404", rec.Code)
	}
}

func TestPutOverride_Validation(t *testing.T) {
	env := newTestEnv(t, testConfig(), true)
	key := []string{"X-API-Key", testAPIKey}

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"unknown hidden field", `{"hiddenFields":["colour"]}`, "hiddenFields[0]"},
		{"relative image url", `{"imageUrl":"/img/a.png"}`, "imageUrl"},
		{"note too long", `{"note":"` + strings.Repeat("x", 1001) + `"}`, "note"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/api/overrides/A1", tt.body, key...)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			resp := decode[ErrorResponse](t, rec)
			if resp.Code != "OVR002" {
				t.Errorf("code = %q, want OVR002", resp.Code)
			}
			if _, ok := resp.Fields[tt.wantField]; !ok {
				t.Errorf("fields = %v, want %q", resp.Fields, tt.wantField)
			}
		})
	}

	t.Run("unknown json field", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/overrides/A1", `{"hide":true}`, key...)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestColumnEndpoints(t *testing.T) {
	env := newTestEnv(t, testConfig(), true)
	key := []string{"X-API-Key", testAPIKey}

	rec := env.do(t, http.MethodGet, "/api/columns", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	cols := decode[ColumnsResponse](t, rec)
	if cols.Resolved["quantity"] != "E" {
		t.Errorf("resolved quantity = %q, want E", cols.Resolved["quantity"])
	}
	if len(cols.Roles) != len(inventory.Roles()) {
		t.Errorf("roles = %d", len(cols.Roles))
	}

	// Point quantity at the price column; the snapshot is re-parsed at once
	rec = env.do(t, http.MethodPut, "/api/columns", `{"columns":{"quantity":"g"}}`, key...)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body.String())
	}
	cols = decode[ColumnsResponse](t, rec)
	if cols.Effective["quantity"] != "g" || cols.Resolved["quantity"] != "G" {
		t.Errorf("effective = %v resolved = %v", cols.Effective, cols.Resolved)
	}
	if env.fetcher.calls != 1 {
		t.Errorf("fetches = %d, want 1 (re-parse must not refetch)", env.fetcher.calls)
	}

	rec = env.do(t, http.MethodGet, "/api/inventory?q=A1", "")
	if resp := decode[InventoryResponse](t, rec); resp.Records[0].Quantity != 10 {
		t.Errorf("quantity after remap = %d, want 10", resp.Records[0].Quantity)
	}

	t.Run("rejects auto-detected role", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/columns", `{"columns":{"price":"C"}}`, key...)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if resp := decode[ErrorResponse](t, rec); resp.Code != "OVR003" {
			t.Errorf("code = %q, want OVR003", resp.Code)
		}
	})

	t.Run("rejects non-letter column", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/columns", `{"columns":{"sku":"3"}}`, key...)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("requires API key", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/columns", `{"columns":{}}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		env := newTestEnv(t, testConfig(), true,
			WithHealthCheck("database", func(context.Context) error { return nil }))
		rec := env.do(t, http.MethodGet, "/healthz", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decode[map[string]any](t, rec)
		if body["status"] != "ok" || body["loaded"] != true {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("degraded dependency", func(t *testing.T) {
		env := newTestEnv(t, testConfig(), false,
			WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }))
		rec := env.do(t, http.MethodGet, "/healthz", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		body := decode[map[string]any](t, rec)
		if body["loaded"] != false {
			t.Errorf("loaded = %v, want false", body["loaded"])
		}
	})
}

func TestHandleDashboard(t *testing.T) {
	t.Run("loading", func(t *testing.T) {
		env := newTestEnv(t, testConfig(), false)
		rec := env.do(t, http.MethodGet, "/", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Inventory is loading") {
			t.Error("missing loading notice")
		}
	})

	t.Run("renders escaped records", func(t *testing.T) {
		env := newTestEnv(t, testConfig(), false)
		env.fetcher.text = "Model,SKU,Description,Qty\n<b>Brand</b>,X1,Rim & Tyre,3\n"
		if _, err := env.service.Refresh(context.Background(), core.TriggerStartup); err != nil {
			t.Fatal(err)
		}

		rec := env.do(t, http.MethodGet, "/", "")
		body := rec.Body.String()
		if strings.Contains(body, "<b>Brand</b>") {
			t.Error("cell text was not escaped")
		}
		for _, want := range []string{"&lt;b&gt;Brand&lt;/b&gt;", "Rim &amp; Tyre", "/api/events"} {
			if !strings.Contains(body, want) {
				t.Errorf("body missing %q", want)
			}
		}
	})
}

func TestHandleEvents(t *testing.T) {
	env := newTestEnv(t, testConfig(), true)
	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := make(chan core.SnapshotInfo, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			data, ok := strings.CutPrefix(sc.Text(), "data: ")
			if !ok {
				continue
			}
			var info core.SnapshotInfo
			if json.Unmarshal([]byte(data), &info) == nil {
				events <- info
			}
		}
		close(events)
	}()

	first := waitEvent(t, events)
	if first.Trigger != core.TriggerStartup {
		t.Errorf("first event trigger = %q, want startup", first.Trigger)
	}

	if _, err := env.service.Refresh(context.Background(), core.TriggerManual); err != nil {
		t.Fatal(err)
	}
	second := waitEvent(t, events)
	if second.Seq <= first.Seq || second.Trigger != core.TriggerManual {
		t.Errorf("second event = %+v after %+v", second, first)
	}
}

func waitEvent(t *testing.T, ch <-chan core.SnapshotInfo) core.SnapshotInfo {
	t.Helper()
	select {
	case info, ok := <-ch:
		if !ok {
			t.Fatal("event stream closed")
		}
		return info
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return core.SnapshotInfo{}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.allow("1.1.1.1") || !rl.allow("1.1.1.1") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("1.1.1.1") {
		t.Error("third request in window should be limited")
	}
	if !rl.allow("2.2.2.2") {
		t.Error("other clients have their own bucket")
	}

	now = now.Add(61 * time.Second)
	if !rl.allow("1.1.1.1") {
		t.Error("request after window should pass")
	}
}

func TestRefreshRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, RefreshLimit: 1}
	env := newTestEnv(t, cfg, true)

	if rec := env.do(t, http.MethodPost, "/api/refresh", "", "X-API-Key", testAPIKey); rec.Code != http.StatusOK {
		t.Fatalf("first refresh status = %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/refresh", "", "X-API-Key", testAPIKey)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second refresh status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// Reads are not affected by the refresh budget
	if rec := env.do(t, http.MethodGet, "/api/stats", ""); rec.Code != http.StatusOK {
		t.Errorf("stats status = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrNoSnapshot, http.StatusServiceUnavailable},
		{core.ErrFetchBusy, http.StatusTooManyRequests},
		{core.ErrStaleSnapshot, http.StatusConflict},
		{overrides.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: x", overrides.ErrInvalidOverride), http.StatusBadRequest},
		{inventory.Mapping{"nope": "A"}.Validate(), http.StatusBadRequest},
		{fmt.Errorf("fetch inventory: %w", source.ErrNoSource), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}
