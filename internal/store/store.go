// Package store persists per-appliance engine snapshots as versioned JSON
// blobs. The snapshot is the single durable copy of engine state; everything
// else in the system is derived from it or from the event log.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/appliancemon/appliance-monitor/internal/domain"
)

// SchemaVersion is the current snapshot schema.
const SchemaVersion = 1

// AIResult is the recorded outcome of the last AI analysis run.
type AIResult struct {
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
}

// Snapshot is the durable state of one appliance engine.
type Snapshot struct {
	Version int    `json:"version"`
	State   string `json:"state"`

	CurrentCycle *domain.Cycle `json:"current_cycle,omitempty"`
	LastCycle    *domain.Cycle `json:"last_cycle,omitempty"`

	DailyStats   domain.DailyStats     `json:"daily_stats"`
	MonthlyStats domain.MonthlyStats   `json:"monthly_stats"`
	CycleHistory []domain.HistoryEntry `json:"cycle_history"`

	MonitoringEnabled    bool `json:"monitoring_enabled"`
	NotificationsEnabled bool `json:"notifications_enabled"`
	AIAnalysisEnabled    bool `json:"ai_analysis_enabled"`

	LastAIAnalysisResult *AIResult `json:"last_ai_analysis_result,omitempty"`
}

// Store is the snapshot persistence capability handed to the engines.
type Store interface {
	// Load returns the stored snapshot, or (nil, nil) when none exists.
	Load(ctx context.Context, applianceID string) (*Snapshot, error)
	// Save atomically replaces the stored snapshot.
	Save(ctx context.Context, applianceID string, snap *Snapshot) error
}

// Sanitize repairs a restored snapshot in place: negative totals are clamped
// to zero and aggregates belonging to a past day or month are re-initialised
// for the current period.
func (s *Snapshot) Sanitize(now time.Time, log zerolog.Logger) {
	if s.DailyStats.Date != now.Format(domain.DateLayout) {
		log.Debug().Str("stored", s.DailyStats.Date).
			Msg("discarding daily stats from a past day")
		s.DailyStats = domain.NewDailyStats(now)
	}
	if s.MonthlyStats.Year != now.Year() || s.MonthlyStats.Month != int(now.Month()) {
		log.Debug().Int("year", s.MonthlyStats.Year).Int("month", s.MonthlyStats.Month).
			Msg("discarding monthly stats from a past month")
		s.MonthlyStats = domain.NewMonthlyStats(now)
	}

	if s.DailyStats.TotalEnergy < 0 {
		log.Warn().Float64("total_energy", s.DailyStats.TotalEnergy).
			Msg("restored negative daily energy, clamping to 0")
		s.DailyStats.TotalEnergy = 0
	}
	if s.DailyStats.TotalCost < 0 {
		log.Warn().Float64("total_cost", s.DailyStats.TotalCost).
			Msg("restored negative daily cost, clamping to 0")
		s.DailyStats.TotalCost = 0
	}
	if s.MonthlyStats.TotalEnergy < 0 {
		log.Warn().Float64("total_energy", s.MonthlyStats.TotalEnergy).
			Msg("restored negative monthly energy, clamping to 0")
		s.MonthlyStats.TotalEnergy = 0
	}
	if s.MonthlyStats.TotalCost < 0 {
		log.Warn().Float64("total_cost", s.MonthlyStats.TotalCost).
			Msg("restored negative monthly cost, clamping to 0")
		s.MonthlyStats.TotalCost = 0
	}
}
