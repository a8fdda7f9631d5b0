// Package testutil provides testing utilities for the exemptions lookup.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/nyc-exemptions/pkg/socrata"
)

// Resource paths served by the mock, matching the NYC open data layout.
const (
	ExemptionsPath = "/resource/muvi-b6kx.json"
	CodesPath      = "/resource/myn9-hwsy.json"
	SchemaPath     = "/api/views/muvi-b6kx/columns.json"
	PlutoPath      = "/resource/64uk-42ks.json"
)

// MockResponse defines a fixed response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSocrata is a configurable mock open data server. Row resources answer
// $where equality conjunctions and $limit like the real API.
type MockSocrata struct {
	server    *httptest.Server
	mu        sync.RWMutex
	resources map[string][]socrata.Row
	handlers  map[string]func(w http.ResponseWriter, r *http.Request)
	failWhere map[string]int
	throttle  int
	retryHdr  string

	// Tracking
	RequestCount      int
	Queries           []url.Values
	Paths             []string
	LastRequestHeader http.Header
}

// NewMockSocrata creates a new mock server.
func NewMockSocrata() *MockSocrata {
	mock := &MockSocrata{
		resources: make(map[string][]socrata.Row),
		handlers:  make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failWhere: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.Queries = append(mock.Queries, r.URL.Query())
		mock.Paths = append(mock.Paths, r.URL.Path)
		mock.LastRequestHeader = r.Header.Clone()

		if mock.throttle > 0 {
			mock.throttle--
			retryAfter := mock.retryHdr
			mock.mu.Unlock()
			if retryAfter != "" {
				w.Header().Set("Retry-After", retryAfter)
			}
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.rowsHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSocrata) URL() string {
	return m.server.URL
}

// Host returns the host the server listens on, without port.
func (m *MockSocrata) Host() string {
	u, _ := url.Parse(m.server.URL)
	return u.Hostname()
}

// ResourceURL returns the absolute URL of path on the mock.
func (m *MockSocrata) ResourceURL(path string) string {
	return m.server.URL + path
}

// Close shuts down the mock server.
func (m *MockSocrata) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSocrata) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.Queries = nil
	m.Paths = nil
	m.LastRequestHeader = nil
}

// SetRows replaces the rows served for path.
func (m *MockSocrata) SetRows(path string, rows ...socrata.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[path] = rows
}

// FailWhere answers status for any request on path whose $where contains
// clause.
func (m *MockSocrata) FailWhere(path, clause string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWhere[path+"\x00"+clause] = status
}

// Throttle answers the next n requests with 429 and the given Retry-After
// header value (omitted when empty).
func (m *MockSocrata) Throttle(n int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttle = n
	m.retryHdr = retryAfter
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSocrata) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockSocrata) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSocrata) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetQueries returns the query parameters of every request so far.
func (m *MockSocrata) GetQueries() []url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]url.Values(nil), m.Queries...)
}

// CountPath returns how many requests hit path.
func (m *MockSocrata) CountPath(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.Paths {
		if p == path {
			n++
		}
	}
	return n
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockSocrata) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

func (m *MockSocrata) rowsHandler(w http.ResponseWriter, r *http.Request) {
	where := r.URL.Query().Get("$where")

	m.mu.RLock()
	rows, exists := m.resources[r.URL.Path]
	status := 0
	for key, code := range m.failWhere {
		path, clause, _ := strings.Cut(key, "\x00")
		if path == r.URL.Path && strings.Contains(where, clause) {
			status = code
		}
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if status != 0 {
		w.WriteHeader(status)
		w.Write([]byte(`{"error": true, "message": "mock failure"}`))
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": true, "message": "not found"}`))
		return
	}

	conds, err := parseWhere(where)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": true, "message": "query.soql.no-such-column"}`))
		return
	}

	limit := 1000
	if raw := r.URL.Query().Get("$limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	matched := make([]socrata.Row, 0)
	for _, row := range rows {
		if len(matched) >= limit {
			break
		}
		if matchesAll(row, conds) {
			matched = append(matched, row)
		}
	}

	body, _ := json.Marshal(matched)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

type condition struct {
	field   string
	value   string
	numeric bool
}

func parseWhere(where string) ([]condition, error) {
	if strings.TrimSpace(where) == "" {
		return nil, nil
	}

	var conds []condition
	for _, part := range strings.Split(where, " AND ") {
		field, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("unsupported predicate %q", part)
		}
		c := condition{field: strings.TrimSpace(field)}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") {
			c.value = strings.ReplaceAll(value[1:len(value)-1], "''", "'")
		} else {
			c.value = value
			c.numeric = true
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func matchesAll(row socrata.Row, conds []condition) bool {
	for _, c := range conds {
		got, ok := row.Get(c.field)
		if !ok {
			return false
		}
		if c.numeric {
			a, errA := strconv.ParseFloat(got, 64)
			b, errB := strconv.ParseFloat(c.value, 64)
			if errA != nil || errB != nil || a != b {
				return false
			}
			continue
		}
		if got != c.value {
			return false
		}
	}
	return true
}
