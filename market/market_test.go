package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"buzzwatch/analysis"
)

const eventsBody = `[{"markets":[
	{"id":"m1","question":"Will MrBeast say Lamborghini?","active":true,"closed":false,
	 "outcomes":"[\"Yes\",\"No\"]","clobTokenIds":"[\"tok-yes-1\",\"tok-no-1\"]"},
	{"id":"m2","question":"Will he say dollar 10+ times?","active":true,"closed":false,
	 "outcomes":["Yes","No"],"clobTokenIds":["tok-yes-2","tok-no-2"]},
	{"id":"m3","question":"Will he say insane?","active":true,"closed":true,
	 "outcomes":"[\"Yes\",\"No\"]","clobTokenIds":"[\"tok-yes-3\",\"tok-no-3\"]"},
	{"id":"m4","question":"Unmapped question about nothing","active":true,"closed":false,
	 "outcomes":"[\"Yes\",\"No\"]","clobTokenIds":"[\"tok-yes-4\",\"tok-no-4\"]"}
]}]`

func gammaServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("slug") == "" {
			t.Error("missing slug query param")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, eventsBody)
	}))
}

func TestActiveMarkets(t *testing.T) {
	server := gammaServer(t)
	defer server.Close()

	c := &GammaClient{BaseURL: server.URL}
	markets, err := c.ActiveMarkets(context.Background(), "what-will-he-say")
	if err != nil {
		t.Fatalf("ActiveMarkets() error = %v", err)
	}
	if len(markets) != 3 {
		t.Fatalf("got %d markets, want 3 (closed filtered out)", len(markets))
	}
	// String-encoded arrays decode the same as native ones.
	if got := markets[0].YesTokenID(); got != "tok-yes-1" {
		t.Errorf("m1 yes token = %q", got)
	}
	if got := markets[1].YesTokenID(); got != "tok-yes-2" {
		t.Errorf("m2 yes token = %q", got)
	}
	if len(markets[0].Outcomes()) != 2 {
		t.Errorf("outcomes = %v", markets[0].Outcomes())
	}
}

func TestActiveMarketsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := &GammaClient{BaseURL: server.URL}
	if _, err := c.ActiveMarkets(context.Background(), "slug"); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestDecodeStringArray(t *testing.T) {
	if got := decodeStringArray([]byte(`["a","b"]`)); len(got) != 2 || got[0] != "a" {
		t.Errorf("native array: %v", got)
	}
	if got := decodeStringArray([]byte(`"[\"a\",\"b\"]"`)); len(got) != 2 || got[1] != "b" {
		t.Errorf("string-encoded array: %v", got)
	}
	if got := decodeStringArray(nil); got != nil {
		t.Errorf("nil input: %v", got)
	}
	if got := decodeStringArray([]byte(`"not json"`)); got != nil {
		t.Errorf("garbage: %v", got)
	}
}

func TestMatch(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		question  string
		category  string
		threshold int
		ok        bool
	}{
		{"Will MrBeast say 'Lamborghini'?", "Tesla/Lamborghini", 1, true},
		{"Will he say supercar?", "Car/Supercar", 1, true},
		{"Will he say car?", "Car/Supercar", 1, true},
		{"Will he say MILLION ten times?", "Thousand/Million", 10, true},
		{"Will he say dollar?", "Dollar", 10, true},
		{"Will he mention the world's biggest stadium?", "World's Biggest/Largest", 1, true},
		{"Completely unrelated question", "", 0, false},
	}
	for _, tt := range tests {
		r, ok := Match(tt.question, rules)
		if ok != tt.ok {
			t.Errorf("Match(%q) ok = %v, want %v", tt.question, ok, tt.ok)
			continue
		}
		if ok && (r.Category != tt.category || r.Threshold != tt.threshold) {
			t.Errorf("Match(%q) = %+v, want %s/%d", tt.question, r, tt.category, tt.threshold)
		}
	}
}

func TestMatchSpecificBeforeGeneric(t *testing.T) {
	// "supercar" contains "car": the specific rule must win.
	r, ok := Match("will he drive a SUPERCAR today", DefaultRules())
	if !ok || r.Keyword != "supercar" {
		t.Fatalf("rule = %+v", r)
	}
}

func TestMidpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/midpoint" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("token_id") {
		case "tok-cheap":
			fmt.Fprint(w, `{"mid":"0.42"}`)
		case "tok-rich":
			fmt.Fprint(w, `{"mid":"0.97"}`)
		default:
			http.Error(w, "unknown token", http.StatusBadRequest)
		}
	}))
	defer server.Close()

	c := &ClobClient{BaseURL: server.URL}
	mid, err := c.Midpoint(context.Background(), "tok-cheap")
	if err != nil || mid != 0.42 {
		t.Fatalf("Midpoint() = %v, %v", mid, err)
	}
	if _, err := c.Midpoint(context.Background(), "tok-missing"); err == nil {
		t.Fatal("expected error on bad token")
	}
}

type recordPlacer struct {
	mu     sync.Mutex
	orders []Order
}

func (p *recordPlacer) PlaceOrder(_ context.Context, o Order) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, o)
	return fmt.Sprintf("live-%d", len(p.orders)), nil
}

func newEngine(t *testing.T, dryRun bool, placer OrderPlacer) (*Engine, func()) {
	t.Helper()
	gamma := gammaServer(t)
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("token_id") {
		case "tok-yes-1":
			fmt.Fprint(w, `{"mid":"0.40"}`)
		case "tok-yes-2":
			fmt.Fprint(w, `{"mid":"0.96"}`)
		default:
			fmt.Fprint(w, `{"mid":"0.50"}`)
		}
	}))
	e := &Engine{
		Gamma:         &GammaClient{BaseURL: gamma.URL},
		Clob:          &ClobClient{BaseURL: clob.URL},
		Placer:        placer,
		EventSlug:     "what-will-he-say",
		USDCPerMarket: 5,
		MaxYesPrice:   0.95,
		DryRun:        dryRun,
	}
	return e, func() { gamma.Close(); clob.Close() }
}

func TestEvaluatePlacesAndSkips(t *testing.T) {
	placer := &recordPlacer{}
	e, cleanup := newEngine(t, false, placer)
	defer cleanup()

	counts := analysis.Counts{
		"Tesla/Lamborghini": 3,  // m1: threshold 1, mid 0.40 -> buy
		"Dollar":            12, // m2: threshold 10, mid 0.96 -> priced in
	}
	decisions, err := e.Evaluate(context.Background(), "vid00000001", counts)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("decisions = %d, want 2 (unmapped market skipped silently)", len(decisions))
	}
	byMarket := map[string]Decision{}
	for _, d := range decisions {
		byMarket[d.MarketID] = d
	}
	if d := byMarket["m1"]; !d.Placed || d.Status != "executed" || d.OrderID == "" {
		t.Errorf("m1 = %+v, want executed", d)
	}
	if d := byMarket["m2"]; d.Placed || d.Status != "priced_in" {
		t.Errorf("m2 = %+v, want priced_in", d)
	}
	if len(placer.orders) != 1 || placer.orders[0].TokenID != "tok-yes-1" || placer.orders[0].USDC != 5 {
		t.Errorf("orders = %+v", placer.orders)
	}
}

func TestEvaluateBelowThreshold(t *testing.T) {
	placer := &recordPlacer{}
	e, cleanup := newEngine(t, false, placer)
	defer cleanup()

	decisions, err := e.Evaluate(context.Background(), "vid00000001", analysis.Counts{"Dollar": 2})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	for _, d := range decisions {
		if d.Placed {
			t.Errorf("unexpected trade: %+v", d)
		}
	}
	if len(placer.orders) != 0 {
		t.Errorf("orders = %+v", placer.orders)
	}
}

func TestEvaluateDryRunNeverHitsPlacer(t *testing.T) {
	placer := &recordPlacer{}
	e, cleanup := newEngine(t, true, placer)
	defer cleanup()

	decisions, err := e.Evaluate(context.Background(), "vid00000001", analysis.Counts{"Tesla/Lamborghini": 1})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	var placed *Decision
	for i := range decisions {
		if decisions[i].Placed {
			placed = &decisions[i]
		}
	}
	if placed == nil || placed.Status != "dry_run" {
		t.Fatalf("decisions = %+v, want one dry_run placement", decisions)
	}
	if len(placer.orders) != 0 {
		t.Fatal("dry run must not reach the live placer")
	}
}

func TestEvaluateDisabled(t *testing.T) {
	e := &Engine{USDCPerMarket: 0}
	if _, err := e.Evaluate(context.Background(), "vid", nil); err == nil {
		t.Fatal("expected error when disabled")
	}
}

func TestHTTPPlacer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/order" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{"orderID":"ord-123"}`)
	}))
	defer server.Close()

	p := &HTTPPlacer{BaseURL: server.URL}
	id, err := p.PlaceOrder(context.Background(), Order{TokenID: "tok", USDC: 5})
	if err != nil || id != "ord-123" {
		t.Fatalf("PlaceOrder() = %q, %v", id, err)
	}
}
