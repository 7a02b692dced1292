package monitor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type HealthStatus string

const (
	StatusOK       HealthStatus = "ok"
	StatusDegraded HealthStatus = "degraded"
	StatusDown     HealthStatus = "down"

	defaultCheckTimeout = 3 * time.Second
)

var readMemStatsFunc = runtime.ReadMemStats // mockable

type (
	// Check is a named probe. A failing critical check takes the service down,
	// any other failing check only degrades it.
	Check struct {
		Name     string
		Critical bool
		Timeout  time.Duration
		Fn       func(ctx context.Context) error
	}

	CheckResult struct {
		Status    HealthStatus `json:"status"`
		LatencyMS int64        `json:"latency_ms"`
		Error     string       `json:"error,omitempty"`
	}

	HealthReport struct {
		Status        HealthStatus           `json:"status"`
		Version       string                 `json:"version"`
		UptimeSeconds int64                  `json:"uptime_seconds"`
		Timestamp     time.Time              `json:"timestamp"`
		Checks        map[string]CheckResult `json:"checks"`
	}

	// Pinger is anything that can tell whether it is reachable, like a database.
	Pinger interface {
		Ping(ctx context.Context) error
	}

	HealthChecker struct {
		checks  []Check
		version string
		started time.Time
	}
)

func NewHealthChecker(version string, checks ...Check) *HealthChecker {
	return &HealthChecker{checks: checks, version: version, started: time.Now()}
}

// Started is when the checker, so the process, was started.
func (h *HealthChecker) Started() time.Time { return h.started }

// Run runs every check concurrently, each within its own timeout.
func (h *HealthChecker) Run(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:        StatusOK,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Timestamp:     time.Now().UTC(),
		Checks:        make(map[string]CheckResult, len(h.checks)),
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for _, check := range h.checks {
		check := check
		g.Go(func() error {
			res := runCheck(ctx, check)

			mu.Lock()
			defer mu.Unlock()
			report.Checks[check.Name] = res
			if res.Status != StatusOK {
				if check.Critical {
					report.Status = StatusDown
				} else if report.Status == StatusOK {
					report.Status = StatusDegraded
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func runCheck(ctx context.Context, check Check) CheckResult {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	errc := make(chan error, 1)
	go func() { errc <- check.Fn(ctx) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "check timed out")
	}

	res := CheckResult{Status: StatusOK, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = StatusDown
		res.Error = err.Error()
	}
	return res
}

// PingCheck is a critical check of a dependency answering pings.
func PingCheck(name string, p Pinger) Check {
	return Check{Name: name, Critical: true, Fn: p.Ping}
}

// DirWritableCheck checks that files can be created in dir.
func DirWritableCheck(name, dir string) Check {
	return Check{
		Name: name,
		Fn: func(context.Context) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			f, err := os.CreateTemp(dir, ".health-*")
			if err != nil {
				return err
			}
			_ = f.Close()
			return os.Remove(filepath.Clean(f.Name()))
		},
	}
}

// MemoryCheck fails once the heap grows over maxMB.
func MemoryCheck(maxMB int) Check {
	return Check{
		Name: "memory",
		Fn: func(context.Context) error {
			var ms runtime.MemStats
			readMemStatsFunc(&ms)
			if heapMB := ms.HeapAlloc / (1 << 20); maxMB > 0 && heapMB > uint64(maxMB) {
				return errors.Errorf("heap is %d MB (max %d MB)", heapMB, maxMB)
			}
			return nil
		},
	}
}
