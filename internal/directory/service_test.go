package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minyanly/dirclient/internal/client"
	"github.com/minyanly/dirclient/internal/config"
)

func newTestService(t *testing.T, handler http.Handler) (*Service, *client.Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Backend.BaseURL = srv.URL
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.BaseDelay = time.Millisecond
	c := client.New(cfg)
	t.Cleanup(func() { c.Close() })
	return NewService(c), c
}

func TestListRestaurants(t *testing.T) {
	var path, query atomic.Value
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		query.Store(r.URL.RawQuery)
		w.Write([]byte(`{"data":{"items":[
			{"id":"r1","name":"Glatt Spot","certification":"OU","cuisine":"israeli"},
			{"id":"r2","name":"Milk & Honey","certification":"CRC","dairy":true}
		],"total":2,"limit":25}}`))
	}))

	page, err := svc.ListRestaurants(context.Background(), ListParams{City: "Chicago", Limit: 25})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if path.Load() != "/restaurants" {
		t.Fatalf("path = %v", path.Load())
	}
	if q := query.Load().(string); q != "city=Chicago&limit=25" {
		t.Fatalf("query = %q", q)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if page.Items[0].Certification != CertOU {
		t.Fatalf("certification = %q", page.Items[0].Certification)
	}
	if !page.Items[1].Dairy {
		t.Fatal("dairy flag lost in decode")
	}
}

func TestGetSynagogueEscapesID(t *testing.T) {
	var path atomic.Value
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.EscapedPath())
		w.Write([]byte(`{"id":"young-israel","denomination":"orthodox"}`))
	}))

	s, err := svc.GetSynagogue(context.Background(), "young israel")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if path.Load() != "/synagogues/young%20israel" {
		t.Fatalf("path = %v", path.Load())
	}
	if s.Denomination != "orthodox" {
		t.Fatalf("denomination = %q", s.Denomination)
	}
}

func TestCreateStoreRoundTrip(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var in Store
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode request: %v", err)
		}
		in.ID = "s9"
		in.Status = StatusPending
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(in)
	}))

	in := &Store{Category: "grocery"}
	in.Name = "Kosher Korner"
	out, err := svc.CreateStore(context.Background(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.ID != "s9" || out.Status != StatusPending {
		t.Fatalf("created = %+v", out)
	}
	if out.Name != "Kosher Korner" || out.Category != "grocery" {
		t.Fatalf("fields lost round-tripping: %+v", out)
	}
}

func TestWriteInvalidatesListCache(t *testing.T) {
	var listHits atomic.Int64
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			listHits.Add(1)
			w.Write([]byte(`{"items":[],"total":0}`))
		case http.MethodPut:
			w.Write([]byte(`{"id":"m1"}`))
		}
	}))
	ctx := context.Background()

	if _, err := svc.ListMikvahs(ctx, ListParams{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := svc.ListMikvahs(ctx, ListParams{}); err != nil {
		t.Fatalf("cached list: %v", err)
	}
	if n := listHits.Load(); n != 1 {
		t.Fatalf("list hits = %d, want 1 (second served from cache)", n)
	}

	// a write against the same family drops the cached page
	m := &Mikvah{}
	m.ID = "m1"
	if _, err := svc.UpdateMikvah(ctx, m); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := svc.ListMikvahs(ctx, ListParams{}); err != nil {
		t.Fatalf("list after write: %v", err)
	}
	if n := listHits.Load(); n != 2 {
		t.Fatalf("list hits = %d, want 2 after invalidating write", n)
	}
}

func TestListParamsQuery(t *testing.T) {
	q := ListParams{Offset: 50, Limit: 10, Tag: "cholov-yisroel", Search: "pizza"}.query()
	if got := q.Encode(); got != "limit=10&offset=50&q=pizza&tag=cholov-yisroel" {
		t.Fatalf("query = %q", got)
	}
	if got := (ListParams{}).query().Encode(); got != "" {
		t.Fatalf("empty params produced %q", got)
	}
}
