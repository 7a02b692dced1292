package monitor

import (
	"runtime"
	"time"

	"github.com/roxnlabs/mentora/core"
)

// RoomCounter tells how many signaling rooms are open.
type RoomCounter interface {
	RoomCount() int
}

type (
	MemoryStats struct {
		AllocMB     uint64 `json:"alloc_mb"`
		HeapAllocMB uint64 `json:"heap_alloc_mb"`
		SysMB       uint64 `json:"sys_mb"`
		NumGC       uint32 `json:"num_gc"`
	}

	StatusReport struct {
		App           string        `json:"app"`
		Env           string        `json:"env"`
		Version       string        `json:"version"`
		GoVersion     string        `json:"go_version"`
		UptimeSeconds int64         `json:"uptime_seconds"`
		Goroutines    int           `json:"goroutines"`
		Memory        MemoryStats   `json:"memory"`
		Requests      StatsSnapshot `json:"requests"`
		Rooms         int           `json:"rooms"`
		Timestamp     time.Time     `json:"timestamp"`
	}
)

// StatusReporter builds the status dashboard data.
type StatusReporter struct {
	conf    *core.Config
	metrics *Metrics
	rooms   RoomCounter
	started time.Time
}

func NewStatusReporter(conf *core.Config, metrics *Metrics, rooms RoomCounter, started time.Time) *StatusReporter {
	return &StatusReporter{conf: conf, metrics: metrics, rooms: rooms, started: started}
}

func (s *StatusReporter) Report() StatusReport {
	var ms runtime.MemStats
	readMemStatsFunc(&ms)

	report := StatusReport{
		App:           s.conf.AppName,
		Env:           s.conf.Env,
		Version:       s.conf.Build,
		GoVersion:     runtime.Version(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		Memory: MemoryStats{
			AllocMB:     ms.Alloc / (1 << 20),
			HeapAllocMB: ms.HeapAlloc / (1 << 20),
			SysMB:       ms.Sys / (1 << 20),
			NumGC:       ms.NumGC,
		},
		Requests:  s.metrics.Stats.Snapshot(),
		Timestamp: time.Now().UTC(),
	}
	if s.rooms != nil {
		report.Rooms = s.rooms.RoomCount()
	}
	return report
}
