package balance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// Resolver resolves a balance snapshot.
type Resolver interface {
	GetBalance(ctx context.Context, address string) domain.BalanceSnapshot
}

// Stats are the rolling values tracked by Monitor.
type Stats struct {
	Initial   float64                `json:"initial"`
	Min       float64                `json:"min"`
	Max       float64                `json:"max"`
	Current   float64                `json:"current"`
	Samples   int                    `json:"samples"`
	LastCheck time.Time              `json:"last_check"`
	Last      domain.BalanceSnapshot `json:"last"`
}

// CheckResult is the outcome of one Monitor.Check.
type CheckResult struct {
	Snapshot domain.BalanceSnapshot
	Alerts   []string
}

// MonitorConfig holds alert thresholds.
type MonitorConfig struct {
	CriticalLowUSD     float64
	ChangeAlertPercent float64
}

// Monitor samples the balance periodically and raises alerts.
type Monitor struct {
	resolver Resolver
	address  string
	cfg      MonitorConfig
	notifier domain.Notifier // optional
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
	low   bool
}

// NewMonitor creates a Monitor for address.
func NewMonitor(resolver Resolver, address string, cfg MonitorConfig, notifier domain.Notifier, logger *slog.Logger) *Monitor {
	return &Monitor{
		resolver: resolver,
		address:  address,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "balance_monitor")),
	}
}

// Check takes one sample. Degraded readings are returned but do not move
// the rolling values or raise threshold alerts.
func (m *Monitor) Check(ctx context.Context) CheckResult {
	snap := m.resolver.GetBalance(ctx, m.address)
	res := CheckResult{Snapshot: snap}
	if snap.Degraded {
		return res
	}

	m.mu.Lock()
	prev := m.stats.Current
	first := m.stats.Samples == 0
	total := snap.Total
	if first {
		m.stats.Initial = total
		m.stats.Min = total
		m.stats.Max = total
	} else {
		m.stats.Min = math.Min(m.stats.Min, total)
		m.stats.Max = math.Max(m.stats.Max, total)
	}
	m.stats.Current = total
	m.stats.Samples++
	m.stats.LastCheck = snap.Timestamp
	m.stats.Last = snap

	// The low alert fires once per excursion below the threshold.
	var alerts []string
	belowLow := total < m.cfg.CriticalLowUSD
	if belowLow && !m.low {
		alerts = append(alerts, domain.AlertCriticalLowBalance)
	}
	m.low = belowLow
	m.mu.Unlock()

	var changePct float64
	if !first && prev > 0 {
		changePct = (total - prev) / prev * 100
		if m.cfg.ChangeAlertPercent > 0 && math.Abs(changePct) >= m.cfg.ChangeAlertPercent {
			alerts = append(alerts, domain.AlertSignificantChange)
		}
	}

	m.logger.DebugContext(ctx, "balance: checked",
		slog.String("source", snap.Source),
		slog.Float64("total", total),
		slog.Float64("change_pct", changePct),
	)

	for _, kind := range alerts {
		detail := m.alertDetail(kind, prev, total, changePct)
		m.logger.WarnContext(ctx, "balance: alert",
			slog.String("kind", kind),
			slog.String("detail", detail),
		)
		if m.notifier != nil {
			m.notifier.BalanceAlert(ctx, kind, snap, detail)
		}
	}
	res.Alerts = alerts
	return res
}

// Stats returns a copy of the rolling values.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) alertDetail(kind string, prev, total, changePct float64) string {
	switch kind {
	case domain.AlertCriticalLowBalance:
		return fmt.Sprintf("balance $%.2f is below $%.2f", total, m.cfg.CriticalLowUSD)
	case domain.AlertSignificantChange:
		return fmt.Sprintf("balance moved %+.1f%% from $%.2f to $%.2f", changePct, prev, total)
	}
	return ""
}
