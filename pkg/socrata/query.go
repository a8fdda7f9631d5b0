// Package socrata builds SoQL queries against the NYC open data resources
// and decodes their JSON row arrays.
package socrata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Predicate is a single equality condition of a $where clause.
type Predicate struct {
	Field string
	Value string
	// Numeric renders the value unquoted.
	Numeric bool
}

// Eq returns a quoted string equality predicate: field='value'.
func Eq(field, value string) Predicate {
	return Predicate{Field: field, Value: value}
}

// EqNumber returns an unquoted numeric equality predicate: field=value.
func EqNumber(field string, value int64) Predicate {
	return Predicate{Field: field, Value: strconv.FormatInt(value, 10), Numeric: true}
}

// String renders the predicate. Single quotes inside string values are
// doubled.
func (p Predicate) String() string {
	if p.Numeric {
		return p.Field + "=" + p.Value
	}
	return p.Field + "='" + strings.ReplaceAll(p.Value, "'", "''") + "'"
}

// Query is a $where conjunction with a row limit.
type Query struct {
	Where []Predicate
	Limit int
}

// WhereClause joins the predicates with AND.
func (q Query) WhereClause() string {
	parts := make([]string, 0, len(q.Where))
	for _, p := range q.Where {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, " AND ")
}

// Values returns the query string parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if where := q.WhereClause(); where != "" {
		v.Set("$where", where)
	}
	if q.Limit > 0 {
		v.Set("$limit", strconv.Itoa(q.Limit))
	}
	return v
}

// URL appends the query to a resource URL, keeping any query parameters the
// resource URL already has.
func (q Query) URL(resource string) (string, error) {
	u, err := url.Parse(resource)
	if err != nil {
		return "", fmt.Errorf("parse resource url: %w", err)
	}
	values := u.Query()
	for key, vals := range q.Values() {
		values[key] = vals
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Fetcher issues GET requests. *client.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// Result is the outcome of a row query. OK is false when the upstream
// answered with a non-2xx status, in which case Rows is empty.
type Result struct {
	Rows   []Row
	Status int
	OK     bool
}

// FetchRows runs q against resource. Non-OK statuses are not errors; they
// yield an empty, non-OK result. Transport and decode failures are errors.
func FetchRows(ctx context.Context, f Fetcher, resource string, q Query) (Result, error) {
	rawURL, err := q.URL(resource)
	if err != nil {
		return Result{}, err
	}
	return FetchURL(ctx, f, rawURL)
}

// FetchURL GETs rawURL and decodes a JSON array of rows when the response
// is OK.
func FetchURL(ctx context.Context, f Fetcher, rawURL string) (Result, error) {
	resp, err := f.Get(ctx, rawURL)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	res := Result{Status: resp.StatusCode, OK: resp.StatusCode >= 200 && resp.StatusCode < 300}
	if !res.OK {
		return res, nil
	}

	rows, err := DecodeRows(resp.Body)
	if err != nil {
		return res, fmt.Errorf("decode %s: %w", rawURL, err)
	}
	res.Rows = rows
	return res, nil
}
