package snapshot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

var ttlPattern = regexp.MustCompile(`^in\s+(\d+)\s+([a-z]+?)s?$`)

var ttlUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// ParseTTL parses a relative expression such as "in 1 week" or "in 3 days".
func ParseTTL(ttl string) (time.Duration, error) {
	m := ttlPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(ttl)))
	if m == nil {
		return 0, fmt.Errorf("invalid ttl %q: expected \"in <n> <unit>\"", ttl)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", ttl, err)
	}
	unit, ok := ttlUnits[m[2]]
	if !ok {
		return 0, fmt.Errorf("invalid ttl %q: unknown unit %q", ttl, m[2])
	}
	return time.Duration(n) * unit, nil
}

// ExpirationTS returns when the snapshot expires, in epoch milliseconds,
// counting the ttl from its last update.
func ExpirationTS(s *core.Snapshot) (int64, error) {
	d, err := ParseTTL(s.TTL)
	if err != nil {
		return 0, err
	}
	return s.UpdatedTS + d.Milliseconds(), nil
}

// Expired reports whether the snapshot's ttl has passed at now.
func Expired(s *core.Snapshot, now time.Time) (bool, error) {
	ts, err := ExpirationTS(s)
	if err != nil {
		return false, err
	}
	return now.UnixMilli() >= ts, nil
}
