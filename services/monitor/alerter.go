package monitor

import (
	"context"
	"fmt"
	"net/mail"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/roxnlabs/mentora/core"
)

type AlertKind string

const (
	AlertErrorRate    AlertKind = "error_rate"
	AlertResponseTime AlertKind = "response_time"
	AlertMemory       AlertKind = "memory"
	AlertHealth       AlertKind = "health"

	levelWarning  = "warning"
	levelCritical = "critical"

	// below this many requests in the window, rates are noise
	minRequestsForRates = 10
)

var NowFunc = time.Now // mockable

// Alert is what gets logged & emailed when a rule fires.
type Alert struct {
	Kind      AlertKind `json:"kind"`
	Level     string    `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Env       string    `json:"env"`
	FiredAt   time.Time `json:"fired_at"`
	StatusURL string    `json:"status_url"`
}

// Alerter evaluates the alert rules. A kind that fired stays quiet during the cooldown,
// unless it recovers in between.
type Alerter struct {
	conf       core.AlertsConfig
	env        string
	statusURL  string
	recipients []mail.Address
	metrics    *Metrics
	health     *HealthChecker
	mailSvc    core.EmailService
	logger     core.Logger

	mu        sync.Mutex
	lastFired map[AlertKind]time.Time
}

func NewAlerter(conf *core.Config, metrics *Metrics, health *HealthChecker, mailSvc core.EmailService, logger core.Logger) *Alerter {
	return &Alerter{
		conf:       conf.Alerts,
		env:        conf.Env,
		statusURL:  "http://" + conf.ServerAddress() + "/status",
		recipients: core.ParseAddresses(conf.Alerts.Emails),
		metrics:    metrics,
		health:     health,
		mailSvc:    mailSvc,
		logger:     logger,
		lastFired:  make(map[AlertKind]time.Time),
	}
}

// Schedule registers the evaluation on the cron scheduler.
func (a *Alerter) Schedule(c *cron.Cron) error {
	_, err := c.AddFunc(a.conf.Schedule, func() { a.Evaluate(context.Background()) })
	return errors.Wrapf(err, "scheduling alerts %q", a.conf.Schedule)
}

// Evaluate checks every rule and sends the alerts that fire; it returns them.
func (a *Alerter) Evaluate(ctx context.Context) []Alert {
	candidates := a.check(ctx)

	a.mu.Lock()
	now := NowFunc().UTC()
	fired := make([]Alert, 0, len(candidates))
	for _, kind := range []AlertKind{AlertErrorRate, AlertResponseTime, AlertMemory, AlertHealth} {
		alert, firing := candidates[kind]
		if !firing {
			delete(a.lastFired, kind) // recovered
			continue
		}
		if last, ok := a.lastFired[kind]; ok && now.Sub(last) < a.conf.Cooldown {
			continue
		}
		a.lastFired[kind] = now
		alert.Env = a.env
		alert.FiredAt = now
		alert.StatusURL = a.statusURL
		fired = append(fired, alert)
	}
	a.mu.Unlock()

	for _, alert := range fired {
		a.send(alert)
	}
	return fired
}

func (a *Alerter) check(ctx context.Context) map[AlertKind]Alert {
	alerts := make(map[AlertKind]Alert)
	snap := a.metrics.Stats.Snapshot()

	if snap.Requests >= minRequestsForRates {
		if a.conf.ErrorRatePercent > 0 && snap.ErrorRatePercent > a.conf.ErrorRatePercent {
			alerts[AlertErrorRate] = Alert{
				Kind:      AlertErrorRate,
				Level:     levelCritical,
				Title:     "High error rate",
				Message:   fmt.Sprintf("%d of the last %d requests failed", snap.Errors, snap.Requests),
				Value:     snap.ErrorRatePercent,
				Threshold: a.conf.ErrorRatePercent,
			}
		}
		if a.conf.ResponseTimeMS > 0 && snap.AvgResponseMS > float64(a.conf.ResponseTimeMS) {
			alerts[AlertResponseTime] = Alert{
				Kind:      AlertResponseTime,
				Level:     levelWarning,
				Title:     "Slow responses",
				Message:   fmt.Sprintf("average response time is %.0f ms", snap.AvgResponseMS),
				Value:     snap.AvgResponseMS,
				Threshold: float64(a.conf.ResponseTimeMS),
			}
		}
	}

	if a.conf.MemoryMB > 0 {
		var ms runtime.MemStats
		readMemStatsFunc(&ms)
		if heapMB := float64(ms.HeapAlloc) / (1 << 20); heapMB > float64(a.conf.MemoryMB) {
			alerts[AlertMemory] = Alert{
				Kind:      AlertMemory,
				Level:     levelWarning,
				Title:     "High memory usage",
				Message:   fmt.Sprintf("heap is %.0f MB", heapMB),
				Value:     heapMB,
				Threshold: float64(a.conf.MemoryMB),
			}
		}
	}

	if a.health != nil {
		if report := a.health.Run(ctx); report.Status == StatusDown {
			var failed []string
			for name, res := range report.Checks {
				if res.Status != StatusOK {
					failed = append(failed, fmt.Sprintf("%s: %s", name, res.Error))
				}
			}
			alerts[AlertHealth] = Alert{
				Kind:    AlertHealth,
				Level:   levelCritical,
				Title:   "Service down",
				Message: fmt.Sprintf("failing checks: %v", failed),
			}
		}
	}
	return alerts
}

func (a *Alerter) send(alert Alert) {
	msg := fmt.Sprintf("alert: %s", alert.Title)
	fields := map[string]interface{}{
		"kind":      string(alert.Kind),
		"value":     alert.Value,
		"threshold": alert.Threshold,
		"message":   alert.Message,
	}
	if alert.Level == levelCritical {
		a.logger.Error(msg, fields)
	} else {
		a.logger.Warn(msg, fields)
	}
	a.metrics.AlertsFiredTotal.WithLabelValues(string(alert.Kind)).Inc()

	if len(a.recipients) > 0 {
		a.mailSvc.SendMessages(&core.EmailMessage{
			To:           a.recipients,
			Subject:      fmt.Sprintf("[%s] %s", alert.Level, alert.Title),
			TemplateName: "alert",
			TemplateData: alert,
		})
	}
}
