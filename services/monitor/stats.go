package monitor

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const bucketSize = time.Minute

type bucket struct {
	start    time.Time
	requests int64
	errors   int64
	latency  time.Duration
	statuses map[int]int64
}

// Stats counts requests over a rolling window, one bucket per minute.
type Stats struct {
	mu      sync.Mutex
	buckets []bucket
	now     func() time.Time
}

// StatsSnapshot sums the buckets of the window.
type StatsSnapshot struct {
	WindowSeconds    int64            `json:"window_seconds"`
	Requests         int64            `json:"requests"`
	Errors           int64            `json:"errors"` // status >= 500
	ErrorRatePercent float64          `json:"error_rate_percent"`
	AvgResponseMS    float64          `json:"avg_response_ms"`
	StatusCounts     map[string]int64 `json:"status_counts"`
}

func NewStats(window time.Duration) *Stats {
	n := int(window / bucketSize)
	if n < 1 {
		n = 1
	}
	return &Stats{buckets: make([]bucket, n), now: time.Now}
}

func (s *Stats) current(now time.Time) *bucket {
	start := now.Truncate(bucketSize)
	b := &s.buckets[int(start.Unix()/int64(bucketSize/time.Second))%len(s.buckets)]
	if !b.start.Equal(start) {
		*b = bucket{start: start, statuses: make(map[int]int64)}
	}
	return b
}

func (s *Stats) Record(status int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.current(s.now())
	b.requests++
	if status >= http.StatusInternalServerError {
		b.errors++
	}
	b.latency += elapsed
	b.statuses[status]++
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	oldest := now.Truncate(bucketSize).Add(-time.Duration(len(s.buckets)-1) * bucketSize)
	snap := StatsSnapshot{
		WindowSeconds: int64(len(s.buckets)) * int64(bucketSize/time.Second),
		StatusCounts:  make(map[string]int64),
	}
	var latency time.Duration
	for _, b := range s.buckets {
		if b.start.IsZero() || b.start.Before(oldest) {
			continue // empty or stale
		}
		snap.Requests += b.requests
		snap.Errors += b.errors
		latency += b.latency
		for status, count := range b.statuses {
			snap.StatusCounts[strconv.Itoa(status)] += count
		}
	}
	if snap.Requests > 0 {
		snap.ErrorRatePercent = float64(snap.Errors) * 100 / float64(snap.Requests)
		snap.AvgResponseMS = float64(latency) / float64(time.Millisecond) / float64(snap.Requests)
	}
	return snap
}
