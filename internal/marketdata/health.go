package marketdata

import (
	"sync"
	"time"

	"github.com/Rajchodisetti/options-engine/internal/observ"
)

// HealthStatus is the coarse system-health signal the execution guard
// consumes. HALT means no action may be approved.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "HEALTHY"
	StatusDegraded HealthStatus = "DEGRADED"
	StatusHalt     HealthStatus = "HALT"
)

// HealthSnapshot is a point-in-time view of data-layer health.
type HealthSnapshot struct {
	Status    HealthStatus `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// HealthMonitor tracks vendor reliability and derives the health signal.
// Consecutive failures degrade, then halt.
type HealthMonitor struct {
	mu                sync.Mutex
	name              string
	successCount      int64
	errorCount        int64
	consecutiveErrors int
	lastSuccess       time.Time
	lastError         time.Time

	degradedAfter int     // consecutive errors before DEGRADED
	haltAfter     int     // consecutive errors before HALT
	haltErrorRate float64 // overall error rate that forces HALT
}

// NewHealthMonitor creates a monitor with the default thresholds.
func NewHealthMonitor(name string) *HealthMonitor {
	return &HealthMonitor{
		name:          name,
		degradedAfter: 2,
		haltAfter:     5,
		haltErrorRate: 0.50,
	}
}

func (hm *HealthMonitor) RecordSuccess() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.successCount++
	hm.consecutiveErrors = 0
	hm.lastSuccess = time.Now()
	observ.IncCounter("provider_operations_total", map[string]string{"provider": hm.name, "result": "success"})
}

func (hm *HealthMonitor) RecordError() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.errorCount++
	hm.consecutiveErrors++
	hm.lastError = time.Now()
	observ.IncCounter("provider_operations_total", map[string]string{"provider": hm.name, "result": "error"})
}

// Snapshot derives the current health signal.
func (hm *HealthMonitor) Snapshot() HealthSnapshot {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	now := time.Now()
	total := hm.successCount + hm.errorCount

	status := StatusHealthy
	detail := ""

	if total > 0 {
		rate := float64(hm.errorCount) / float64(total)
		if hm.consecutiveErrors >= hm.haltAfter || (total >= 10 && rate >= hm.haltErrorRate) {
			status = StatusHalt
			detail = "vendor failing persistently"
		} else if hm.consecutiveErrors >= hm.degradedAfter {
			status = StatusDegraded
			detail = "vendor errors above threshold"
		}
	}

	observ.SetGauge("system_health_status", healthGaugeValue(status), map[string]string{"provider": hm.name})

	return HealthSnapshot{Status: status, Detail: detail, CheckedAt: now}
}

func healthGaugeValue(s HealthStatus) float64 {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}
