package middlewarectx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestLimiters_SweepsIdleVisitorsOncePerTTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	l := &limiters{
		visitors:  make(map[string]*visitor),
		rps:       rate.Limit(1),
		burst:     1,
		now:       func() time.Time { return now },
		lastSweep: now,
	}

	l.get("10.0.0.1")
	now = now.Add(limiterIdleTTL + time.Second)
	l.get("10.0.0.2")
	assert.NotContains(t, l.visitors, "10.0.0.1", "idle visitor is evicted")
	assert.Equal(t, now, l.lastSweep)

	now = now.Add(time.Minute)
	l.visitors["stale"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: now.Add(-2 * limiterIdleTTL)}
	l.get("10.0.0.3")
	assert.Contains(t, l.visitors, "stale", "no sweep before limiterIdleTTL since the last one")

	now = now.Add(limiterIdleTTL)
	l.get("10.0.0.3")
	assert.NotContains(t, l.visitors, "stale")
	assert.Contains(t, l.visitors, "10.0.0.3")
}
