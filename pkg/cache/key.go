package cache

import (
	"fmt"
	"sort"
	"strings"
)

const keyPrefix = "exemptions"

// Key identifies a cached value within a session.
type Key struct {
	// Session is the owning session ID.
	Session string

	// Table names the cached value (e.g. "codes", "records").
	Table string

	// Params narrow the value (e.g. {"parid": "1000010001"}).
	Params map[string]string
}

// String generates a deterministic key string.
// Format: exemptions:session:table:param1=val1:param2=val2
//
// Example:
//
//	exemptions:6f1c...:records:parid=1000010001
func (k Key) String() string {
	parts := []string{sessionPrefix(k.Session)}

	if table := strings.Trim(k.Table, ":"); table != "" {
		parts = append(parts, table)
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params[name]))
		}
	}

	return strings.Join(parts, ":")
}

func sessionPrefix(session string) string {
	if session == "" {
		session = "global"
	}
	return keyPrefix + ":" + session
}
