package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/nyc-exemptions/internal/testutil"
	"github.com/Sternrassler/nyc-exemptions/pkg/cache"
	"github.com/Sternrassler/nyc-exemptions/pkg/client"
	"github.com/Sternrassler/nyc-exemptions/pkg/config"
	"github.com/Sternrassler/nyc-exemptions/pkg/diagnostics"
	"github.com/Sternrassler/nyc-exemptions/pkg/export"
	"github.com/Sternrassler/nyc-exemptions/pkg/parcel"
	"github.com/Sternrassler/nyc-exemptions/pkg/ratelimit"
	"github.com/Sternrassler/nyc-exemptions/pkg/repository"
	"github.com/Sternrassler/nyc-exemptions/pkg/socrata"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type eventLog struct {
	events []diagnostics.Event
}

func (l *eventLog) Publish(ev diagnostics.Event) {
	l.events = append(l.events, ev)
}

// countingStore records store traffic so tests can see what was served from cache.
type countingStore struct {
	cache.Store

	mu   sync.Mutex
	gets int
	hits int
	sets int
}

func (s *countingStore) Get(ctx context.Context, key cache.Key) (cache.Entry, error) {
	entry, err := s.Store.Get(ctx, key)
	s.mu.Lock()
	s.gets++
	if err == nil {
		s.hits++
	}
	s.mu.Unlock()
	return entry, err
}

func (s *countingStore) Set(ctx context.Context, key cache.Key, entry cache.Entry) error {
	s.mu.Lock()
	s.sets++
	s.mu.Unlock()
	return s.Store.Set(ctx, key, entry)
}

func (s *countingStore) counts() (gets, hits, sets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.hits, s.sets
}

type fixture struct {
	mock    *testutil.MockSocrata
	svc     *Service
	events  *eventLog
	store   *cache.MemoryStore
	traffic *countingStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := testutil.NewMockSocrata()
	t.Cleanup(m.Close)

	m.SetRows(testutil.ExemptionsPath,
		socrata.NewRow("parid", "1000010001", "year", "2022", "period", "1", "exmp_code", "5110"),
		socrata.NewRow("parid", "1000010001", "year", "2023", "period", "3", "exmp_code", "5110"),
		socrata.NewRow("parid", "1000010001", "year", "2023", "period", "1", "exmp_code", "5110", "no_years", "10"),
	)
	m.SetRows(testutil.CodesPath, socrata.NewRow("exempt_code", "5110", "description", "J-51"))
	m.SetResponse(testutil.SchemaPath, testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `[{"fieldName": "exmp_code", "description": "Exemption Type"}]`,
	})
	m.SetRows(testutil.PlutoPath, socrata.NewRow("bbl", "1000010001", "address", "1 CENTRE STREET", "block", "1", "lot", "1"))

	events := &eventLog{}
	c, err := client.New(client.Config{
		DataHost:         m.Host(),
		AppToken:         "test-token",
		CredentialHeader: "X-App-Token",
		Policy:           ratelimit.DefaultPolicy(),
		Publisher:        events,
		Sleep:            noSleep,
	})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	store, err := cache.NewMemoryStore(32)
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}

	cfg := FromConfig(config.DefaultConfig())
	cfg.ExemptionsURL = m.ResourceURL(testutil.ExemptionsPath)
	cfg.CodeLookupURL = m.ResourceURL(testutil.CodesPath)
	cfg.SchemaURL = m.ResourceURL(testutil.SchemaPath)
	cfg.PlutoURL = m.ResourceURL(testutil.PlutoPath)
	cfg.Sleep = noSleep
	cfg.Now = func() time.Time { return fixedNow }

	traffic := &countingStore{Store: store}
	return &fixture{mock: m, svc: New(c, traffic, cfg), events: events, store: store, traffic: traffic}
}

func TestSearchParcel_RejectsBeforeNetwork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, raw := range []string{"", "123", "123456789", "10000100011", "10000A0001"} {
		if _, err := f.svc.SearchParcel(ctx, raw); !errors.Is(err, parcel.ErrInvalidParcelID) {
			t.Errorf("SearchParcel(%q) error = %v, want ErrInvalidParcelID", raw, err)
		}
	}
	if _, err := f.svc.SearchBBL(ctx, "1", "", "1"); !errors.Is(err, parcel.ErrMissingBBL) {
		t.Errorf("SearchBBL() error = %v, want ErrMissingBBL", err)
	}

	if n := f.mock.GetRequestCount(); n != 0 {
		t.Errorf("requests = %d, want 0 for invalid input", n)
	}
}

func TestSearchParcel_FullFlow(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SearchParcel(context.Background(), " 1000010001 ")
	if err != nil {
		t.Fatalf("SearchParcel() error = %v", err)
	}

	if res.Parcel != "1000010001" {
		t.Errorf("Parcel = %s", res.Parcel)
	}
	if len(res.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(res.Records))
	}
	if y, p := res.Records[0].Year(), res.Records[0].Period(); y != 2023 || p != "3" {
		t.Errorf("first record = %d/%s, want 2023/3", y, p)
	}
	if want := "Found 3 record(s) for assessment years 2021 – 2026."; res.Summary != want {
		t.Errorf("Summary = %q, want %q", res.Summary, want)
	}
	if !res.Years.Has(2023) || !res.Years.Has(2022) || res.Years.Has(2026) {
		t.Errorf("Years = %v", res.Years)
	}
	if !res.PlutoFound || res.Pluto.Address != "1 CENTRE STREET" {
		t.Errorf("Pluto = %+v (found %v)", res.Pluto, res.PlutoFound)
	}
	if d, _ := f.svc.Codes(context.Background()).Describe("5110"); d != "J-51" {
		t.Errorf("code 5110 = %q", d)
	}

	// lookups 2 + probe 2026..2021 6 + all years 1 + pluto 1
	if n := f.mock.GetRequestCount(); n != 10 {
		t.Errorf("requests = %d, want 10", n)
	}
	if len(f.events.events) != 10 {
		t.Errorf("diagnostic events = %d, want one per request", len(f.events.events))
	}
	if f.mock.GetLastRequestHeader().Get("X-App-Token") != "test-token" {
		t.Error("app token should be sent to the data host")
	}
}

func TestSearchBBL(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SearchBBL(context.Background(), "1", "1", "1")
	if err != nil {
		t.Fatalf("SearchBBL() error = %v", err)
	}
	if res.Parcel != "1000010001" || len(res.Records) != 3 {
		t.Errorf("SearchBBL() = %s with %d records", res.Parcel, len(res.Records))
	}
}

func TestSelectYear_FromCache(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.SelectYear(2023); !errors.Is(err, repository.ErrNoLookup) {
		t.Errorf("SelectYear() before search error = %v, want ErrNoLookup", err)
	}

	if _, err := f.svc.SearchParcel(context.Background(), "1000010001"); err != nil {
		t.Fatalf("SearchParcel() error = %v", err)
	}
	before := f.mock.GetRequestCount()

	v, err := f.svc.SelectYear(2023)
	if err != nil {
		t.Fatalf("SelectYear() error = %v", err)
	}
	if len(v.Records) != 2 || v.Records[0].Period() != "3" {
		t.Errorf("SelectYear(2023) = %d records", len(v.Records))
	}
	if v.Summary != "Found 2 record(s) for assessment year 2023." {
		t.Errorf("Summary = %q", v.Summary)
	}

	empty, err := f.svc.SelectYear(2024)
	if err != nil {
		t.Fatalf("SelectYear() error = %v", err)
	}
	if len(empty.Records) != 0 || empty.Summary != "No exemption records found for 2024." {
		t.Errorf("SelectYear(2024) = %+v", empty)
	}

	all, err := f.svc.AllYears()
	if err != nil || len(all.Records) != 3 {
		t.Errorf("AllYears() = %d records, %v", len(all.Records), err)
	}

	if f.mock.GetRequestCount() != before {
		t.Errorf("year views issued %d requests", f.mock.GetRequestCount()-before)
	}
}

func TestSearch_NoRecords(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SearchParcel(context.Background(), "4000010001")
	if err != nil {
		t.Fatalf("SearchParcel() error = %v", err)
	}
	if len(res.Records) != 0 || res.Summary != "No exemption records found for any year." {
		t.Errorf("Result = %+v", res.View)
	}
	if res.PlutoFound {
		t.Error("PlutoFound should be false")
	}
}

func TestSearch_RateLimitedThenRecovers(t *testing.T) {
	f := newFixture(t)
	f.mock.Throttle(2, "1")

	if _, err := f.svc.SearchParcel(context.Background(), "1000010001"); err != nil {
		t.Fatalf("SearchParcel() error = %v", err)
	}

	first := f.events.events[0]
	if !first.RateLimited || first.Retries != 2 || first.Status != http.StatusOK {
		t.Errorf("first event = %+v, want rate limited with 2 retries", first)
	}
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Export(ctx); !errors.Is(err, ErrNoParcel) {
		t.Errorf("Export() before search error = %v, want ErrNoParcel", err)
	}

	if _, err := f.svc.SearchParcel(ctx, "1000010001"); err != nil {
		t.Fatalf("SearchParcel() error = %v", err)
	}
	f.mock.Reset()

	file, err := f.svc.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if file.Name != "exemption_data_1000010001_20250601120000.csv" {
		t.Errorf("Name = %q", file.Name)
	}
	if file.ContentType != export.ContentType {
		t.Errorf("ContentType = %q", file.ContentType)
	}

	text := string(file.Data)
	if !strings.Contains(text, "\n\"parid\",\"year\",\"period\",\"exmp_code\",\"no_years\"\n") {
		t.Errorf("raw header missing:\n%s", text)
	}
	if !strings.Contains(text, "\"Parid\",\"Year\",\"Period\",\"Exemption Type\",\"No Years\"") {
		t.Errorf("labelled header missing:\n%s", text)
	}
	if !strings.Contains(text, "- Downloaded: 2025-06-01T12:00:00.000Z") {
		t.Errorf("download stamp missing:\n%s", text)
	}

	// one query per year 2026..2021, lookups already loaded
	if n := f.mock.GetRequestCount(); n != 6 {
		t.Errorf("export requests = %d, want 6", n)
	}
}

func TestExportParcel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ExportParcel(ctx, "12"); !errors.Is(err, ErrNoParcel) {
		t.Errorf("ExportParcel(invalid) error = %v, want ErrNoParcel", err)
	}
	if f.mock.GetRequestCount() != 0 {
		t.Error("invalid export should not reach the network")
	}

	if _, err := f.svc.ExportParcel(ctx, "4000010001"); !errors.Is(err, export.ErrNoData) {
		t.Errorf("ExportParcel(no rows) error = %v, want ErrNoData", err)
	}
}

func TestCSVSourcesPreview(t *testing.T) {
	f := newFixture(t)

	if got := f.svc.CSVSourcesPreview(""); got != "!!! Run a search to see sources." {
		t.Errorf("preview = %q", got)
	}
	if got := f.svc.CSVSourcesPreview("1000010001"); !strings.Contains(got, "muvi-b6kx.json?parid=1000010001") {
		t.Errorf("preview = %q", got)
	}
}

func TestClose_DropsSessionCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SearchParcel(ctx, "1000010001"); err != nil {
		t.Fatalf("SearchParcel() error = %v", err)
	}
	if f.store.Len() == 0 {
		t.Fatal("lookup tables should be cached for the session")
	}

	if err := f.svc.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if f.store.Len() != 0 {
		t.Errorf("store holds %d entries after Close", f.store.Len())
	}
}

func TestLookupTables_ServedFromSessionStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SearchParcel(ctx, "1000010001"); err != nil {
		t.Fatalf("first SearchParcel() error = %v", err)
	}
	if _, err := f.svc.SearchParcel(ctx, "1000010001"); err != nil {
		t.Fatalf("second SearchParcel() error = %v", err)
	}
	if _, err := f.svc.SelectYear(2023); err != nil {
		t.Fatalf("SelectYear() error = %v", err)
	}
	file, err := f.svc.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.Contains(string(file.Data), "\"Exemption Type\"") {
		t.Errorf("export labels should come from the cached field table:\n%s", file.Data)
	}

	// first search misses both tables; the second search and the export read them back
	gets, hits, sets := f.traffic.counts()
	if gets != 7 || hits != 5 || sets != 2 {
		t.Errorf("store gets=%d hits=%d sets=%d, want gets=7 hits=5 sets=2", gets, hits, sets)
	}
	if n := f.mock.CountPath(testutil.CodesPath); n != 1 {
		t.Errorf("code lookup requests = %d, want 1", n)
	}
	if n := f.mock.CountPath(testutil.SchemaPath); n != 1 {
		t.Errorf("schema requests = %d, want 1", n)
	}
}

func TestSearch_PlutoTransportFailureKeepsRecords(t *testing.T) {
	f := newFixture(t)
	f.mock.SetHandler(testutil.PlutoPath, func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	})

	res, err := f.svc.SearchParcel(context.Background(), "1000010001")
	if err != nil {
		t.Fatalf("SearchParcel() error = %v, want records without property details", err)
	}
	if res.PlutoFound {
		t.Error("PlutoFound = true after transport failure")
	}
	if len(res.Records) != 3 {
		t.Errorf("Records = %d, want 3", len(res.Records))
	}

	view, err := f.svc.SelectYear(2023)
	if err != nil {
		t.Fatalf("SelectYear() after PLUTO failure error = %v", err)
	}
	if len(view.Records) != 2 {
		t.Errorf("2023 records = %d, want 2", len(view.Records))
	}
}
