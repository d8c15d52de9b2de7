// Package monitor turns run statistics into metrics snapshots, health
// checks and a human-readable end-of-run report.
package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"askscraper/pkg/logger"
	"askscraper/pkg/models"
)

// HealthStatus grades a run
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// Health is the outcome of a health check
type Health struct {
	Status HealthStatus `json:"status"`
	Issues []string     `json:"issues"`
}

// Metrics is one recorded snapshot of run statistics
type Metrics struct {
	Timestamp       time.Time      `json:"timestamp"`
	RunID           string         `json:"run_id"`
	TotalPosts      int            `json:"total_posts"`
	TotalComments   int            `json:"total_comments"`
	NewPosts        int            `json:"new_posts"`
	Duplicates      int            `json:"duplicates"`
	OutOfRange      int            `json:"out_of_range"`
	Errors          int            `json:"errors"`
	Retries         int            `json:"retries"`
	EmptyPages      int            `json:"empty_pages"`
	PagesProcessed  int            `json:"pages_processed"`
	DurationSeconds float64        `json:"duration_seconds"`
	SuccessRate     float64        `json:"success_rate"`
	HTTPStatusCodes map[string]int `json:"http_status_codes"`
}

// Monitor accumulates metrics snapshots across runs of one process
type Monitor struct {
	metricsFile string
	history     []Metrics
	logger      logger.Logger
}

// New creates a monitor appending metrics to the given JSONL file
func New(metricsFile string, log logger.Logger) *Monitor {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Monitor{
		metricsFile: metricsFile,
		logger:      log,
	}
}

// Record takes a metrics snapshot of the given run stats
func (m *Monitor) Record(stats *models.RunStats) Metrics {
	metrics := Metrics{
		Timestamp:       time.Now(),
		RunID:           stats.RunID,
		TotalPosts:      stats.TotalPosts,
		TotalComments:   stats.TotalComments,
		NewPosts:        stats.NewPosts,
		Duplicates:      stats.Duplicates,
		OutOfRange:      stats.OutOfRange,
		Errors:          stats.Errors,
		Retries:         stats.Retries,
		EmptyPages:      stats.EmptyPages,
		PagesProcessed:  stats.PagesProcessed,
		DurationSeconds: stats.Duration(),
		SuccessRate:     stats.SuccessRate(),
		HTTPStatusCodes: stats.HTTPStatusCodes,
	}
	m.history = append(m.history, metrics)

	m.logger.InfoWithFields("metrics recorded", map[string]interface{}{
		"run_id":       metrics.RunID,
		"new_posts":    metrics.NewPosts,
		"errors":       metrics.Errors,
		"success_rate": metrics.SuccessRate,
	})
	return metrics
}

// SaveMetrics appends the recorded snapshots to the metrics file and
// clears the in-memory history
func (m *Monitor) SaveMetrics() error {
	if len(m.history) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(m.metricsFile), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	file, err := os.OpenFile(m.metricsFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open metrics file: %w", err)
	}
	defer file.Close()

	for _, metrics := range m.history {
		data, err := json.Marshal(metrics)
		if err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to append metrics: %w", err)
		}
	}

	m.logger.InfoWithFields("metrics saved", map[string]interface{}{
		"file":  m.metricsFile,
		"count": len(m.history),
	})
	m.history = m.history[:0]
	return nil
}

// CheckHealth grades the run and lists anything worth looking at
func (m *Monitor) CheckHealth(stats *models.RunStats) Health {
	health := Health{Status: StatusHealthy}

	successRate := stats.SuccessRate()
	attempted := stats.TotalPosts + stats.Errors
	if attempted > 0 {
		switch {
		case successRate < 50:
			health.Status = StatusCritical
			health.Issues = append(health.Issues, fmt.Sprintf("success rate too low: %.1f%%", successRate))
		case successRate < 80:
			health.Status = StatusWarning
			health.Issues = append(health.Issues, fmt.Sprintf("success rate degraded: %.1f%%", successRate))
		}

		errorRate := float64(stats.Errors) / float64(attempted) * 100
		if errorRate > 10 {
			if health.Status == StatusHealthy {
				health.Status = StatusWarning
			}
			health.Issues = append(health.Issues, fmt.Sprintf("high error rate: %.1f%%", errorRate))
		}
	}

	if stats.EmptyPages > 5 {
		if health.Status == StatusHealthy {
			health.Status = StatusWarning
		}
		health.Issues = append(health.Issues, fmt.Sprintf("many empty pages: %d", stats.EmptyPages))
	}

	if stats.HTTPStatusCodes["403"] > 0 || stats.HTTPStatusCodes["429"] > 0 {
		health.Status = StatusCritical
		health.Issues = append(health.Issues, "rate limiting or access denial detected")
	}

	m.logger.InfoWithFields("health check", map[string]interface{}{
		"status": string(health.Status),
		"issues": len(health.Issues),
	})
	return health
}

// Report renders a human-readable summary of a run
func (m *Monitor) Report(stats *models.RunStats) string {
	duration := stats.Duration()
	avgComments := 0.0
	if stats.TotalPosts > 0 {
		avgComments = float64(stats.TotalComments) / float64(stats.TotalPosts)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Harvest Report (run %s)\n", stats.RunID)
	fmt.Fprintf(&b, "%s\n", strings.Repeat("=", 48))
	fmt.Fprintf(&b, "Duration:        %.1fs (%.1f min)\n", duration, duration/60)
	fmt.Fprintf(&b, "\nPosts & Comments\n")
	fmt.Fprintf(&b, "  Total posts:   %d\n", stats.TotalPosts)
	fmt.Fprintf(&b, "  New posts:     %d\n", stats.NewPosts)
	fmt.Fprintf(&b, "  Duplicates:    %d\n", stats.Duplicates)
	fmt.Fprintf(&b, "  Out of range:  %d\n", stats.OutOfRange)
	fmt.Fprintf(&b, "  Comments:      %d (%.1f per post)\n", stats.TotalComments, avgComments)
	fmt.Fprintf(&b, "\nReliability\n")
	fmt.Fprintf(&b, "  Success rate:  %.1f%%\n", stats.SuccessRate())
	fmt.Fprintf(&b, "  Errors:        %d\n", stats.Errors)
	fmt.Fprintf(&b, "  Retries:       %d\n", stats.Retries)
	fmt.Fprintf(&b, "  Empty pages:   %d\n", stats.EmptyPages)
	fmt.Fprintf(&b, "  Pages:         %d\n", stats.PagesProcessed)

	if len(stats.HTTPStatusCodes) > 0 {
		fmt.Fprintf(&b, "\nHTTP status codes\n")
		codes := make([]string, 0, len(stats.HTTPStatusCodes))
		for code := range stats.HTTPStatusCodes {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "  %s: %d\n", code, stats.HTTPStatusCodes[code])
		}
	}

	if duration > 0 {
		fmt.Fprintf(&b, "\nThroughput:      %.1f posts/min\n", float64(stats.TotalPosts)/(duration/60))
	}
	fmt.Fprintf(&b, "%s\n", strings.Repeat("=", 48))

	return b.String()
}
