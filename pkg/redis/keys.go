package redis

import (
	"sort"
	"strings"
)

// Namespaces flushed together when cached analytics go stale.
const (
	StatsNamespace  = "stats"
	ReportNamespace = "report"
)

const (
	lockPrefix        = "lock"
	idempotencyPrefix = "idempotency"
)

// CacheKey builds "<namespace>:<op>[:name=value...]". Filters are sorted by name
// and blank values dropped, so equal filter sets share a key.
func CacheKey(namespace, op string, filters map[string]string) string {
	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte(':')
	b.WriteString(op)

	names := make([]string, 0, len(filters))
	for name, value := range filters {
		if strings.TrimSpace(value) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.TrimSpace(filters[name]))
	}
	return b.String()
}

func (c *Client) LockKey(name string) string {
	return joinKey(lockPrefix, name)
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey(idempotencyPrefix, scope, id)
}

func joinKey(parts ...string) string {
	kept := parts[:0:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ":")
}
