// Package notify formats and delivers user-facing notifications for
// appliance events. Delivery is best effort: transport failures are logged
// and never propagate into the engine.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/appliancemon/appliance-monitor/internal/domain"
)

// Kind is a notification category that can be enabled or disabled.
type Kind string

const (
	KindCycleStarted  Kind = "cycle_started"
	KindCycleFinished Kind = "cycle_finished"
	KindAlertDuration Kind = "alert_duration"
	KindUnplugged     Kind = "unplugged"
	KindAutoShutdown  Kind = "auto_shutdown"
	KindEnergyLimit   Kind = "energy_limit"
	KindBudget        Kind = "budget"
	KindSchedule      Kind = "schedule"
	KindAnomaly       Kind = "anomaly"
	KindAIAnalysis    Kind = "ai_analysis"
)

// AllKinds lists every notification kind; the default configuration enables
// them all.
var AllKinds = []Kind{
	KindCycleStarted, KindCycleFinished, KindAlertDuration, KindUnplugged,
	KindAutoShutdown, KindEnergyLimit, KindBudget, KindSchedule,
	KindAnomaly, KindAIAnalysis,
}

// Message is a formatted notification handed to every transport.
type Message struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Tag      string `json:"tag"`
	Severity string `json:"severity"` // info, warning, critical
}

// Transport delivers messages to one destination.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Notifier filters by kind and master flag, formats per-appliance wording,
// and fans out to the configured transports.
type Notifier struct {
	applianceName string
	applianceKind domain.Kind
	currency      string
	strict        bool // schedule mode, changes wording only

	kinds      map[Kind]bool
	transports []Transport
	log        zerolog.Logger

	mu      sync.Mutex
	enabled bool
}

// New builds a notifier with every kind enabled. Use EnableKinds to restrict.
func New(applianceName string, kind domain.Kind, currency string, log zerolog.Logger, transports ...Transport) *Notifier {
	kinds := make(map[Kind]bool, len(AllKinds))
	for _, k := range AllKinds {
		kinds[k] = true
	}
	return &Notifier{
		applianceName: applianceName,
		applianceKind: kind,
		currency:      currency,
		kinds:         kinds,
		transports:    transports,
		log:           log,
		enabled:       true,
	}
}

// EnableKinds replaces the set of enabled notification kinds.
func (n *Notifier) EnableKinds(kinds ...Kind) {
	enabled := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		enabled[k] = true
	}
	n.kinds = enabled
}

// SetStrictSchedule switches the schedule notification wording.
func (n *Notifier) SetStrictSchedule(strict bool) { n.strict = strict }

// SetEnabled flips the master switch mirrored from the engine toggle.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	n.enabled = enabled
	n.mu.Unlock()
}

// Enabled reports the master switch state.
func (n *Notifier) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

func (n *Notifier) send(ctx context.Context, kind Kind, msg Message) {
	if !n.Enabled() || !n.kinds[kind] {
		return
	}
	for _, t := range n.transports {
		if err := t.Send(ctx, msg); err != nil {
			n.log.Warn().Err(err).Str("transport", t.Name()).Str("kind", string(kind)).
				Msg("notification delivery failed")
		}
	}
}

// cycleWord returns "cycle" or "session" to match the appliance vocabulary.
func (n *Notifier) cycleWord() string { return n.applianceKind.CycleWord() }

// NotifyCycleStarted announces a confirmed start.
func (n *Notifier) NotifyCycleStarted(ctx context.Context) {
	n.send(ctx, KindCycleStarted, Message{
		Title:    fmt.Sprintf("%s started", n.applianceName),
		Body:     fmt.Sprintf("A new %s has started.", n.cycleWord()),
		Tag:      fmt.Sprintf("%s_cycle_started", n.applianceName),
		Severity: "info",
	})
}

// NotifyCycleFinished announces a completed cycle with its stats.
func (n *Notifier) NotifyCycleFinished(ctx context.Context, duration, energy, cost float64) {
	n.send(ctx, KindCycleFinished, Message{
		Title: fmt.Sprintf("%s finished", n.applianceName),
		Body: fmt.Sprintf("%s complete: %.1f min, %.3f kWh, %.2f %s.",
			titleWord(n.cycleWord()), duration, energy, cost, n.currency),
		Tag:      fmt.Sprintf("%s_cycle_finished", n.applianceName),
		Severity: "info",
	})
}

// NotifyAlertDuration warns that the current cycle exceeds its alert limit.
func (n *Notifier) NotifyAlertDuration(ctx context.Context, elapsed time.Duration) {
	n.send(ctx, KindAlertDuration, Message{
		Title: fmt.Sprintf("%s still running", n.applianceName),
		Body: fmt.Sprintf("The %s has been running for %.0f minutes.",
			n.cycleWord(), elapsed.Minutes()),
		Tag:      fmt.Sprintf("%s_alert_duration", n.applianceName),
		Severity: "warning",
	})
}

// NotifyUnplugged warns about a prolonged zero-power reading.
func (n *Notifier) NotifyUnplugged(ctx context.Context, timeAtZero time.Duration) {
	n.send(ctx, KindUnplugged, Message{
		Title: fmt.Sprintf("%s appears unplugged", n.applianceName),
		Body: fmt.Sprintf("Power has read exactly 0 W for %.0f minutes.",
			timeAtZero.Minutes()),
		Tag:      fmt.Sprintf("%s_unplugged", n.applianceName),
		Severity: "warning",
	})
}

// NotifyAutoShutdown reports that the controlled switch was turned off.
func (n *Notifier) NotifyAutoShutdown(ctx context.Context, idleFor time.Duration) {
	n.send(ctx, KindAutoShutdown, Message{
		Title: fmt.Sprintf("%s switched off", n.applianceName),
		Body: fmt.Sprintf("Idle for %.0f minutes, the controlled switch was turned off.",
			idleFor.Minutes()),
		Tag:      fmt.Sprintf("%s_auto_shutdown", n.applianceName),
		Severity: "info",
	})
}

// NotifyEnergyLimit reports a crossed energy limit for the given scope
// ("cycle", "daily" or "monthly").
func (n *Notifier) NotifyEnergyLimit(ctx context.Context, scope string, energy, limit float64) {
	n.send(ctx, KindEnergyLimit, Message{
		Title: fmt.Sprintf("%s energy limit exceeded", n.applianceName),
		Body: fmt.Sprintf("%s energy is %.3f kWh, above the %.3f kWh limit.",
			titleWord(scope), energy, limit),
		Tag:      fmt.Sprintf("%s_energy_limit", n.applianceName),
		Severity: "warning",
	})
}

// NotifyBudget reports a crossed monthly cost budget.
func (n *Notifier) NotifyBudget(ctx context.Context, cost, budget float64) {
	n.send(ctx, KindBudget, Message{
		Title: fmt.Sprintf("%s budget exceeded", n.applianceName),
		Body: fmt.Sprintf("Monthly cost is %.2f %s, above the %.2f %s budget.",
			cost, n.currency, budget, n.currency),
		Tag:      fmt.Sprintf("%s_budget", n.applianceName),
		Severity: "warning",
	})
}

// NotifySchedule reports usage outside the allowed schedule. Strict mode only
// changes the wording; enforcement stays with the user.
func (n *Notifier) NotifySchedule(ctx context.Context) {
	body := fmt.Sprintf("The %s is running outside its allowed schedule.", n.applianceName)
	severity := "warning"
	if n.strict {
		body = fmt.Sprintf("The %s is running outside its allowed schedule and should be stopped.", n.applianceName)
		severity = "critical"
	}
	n.send(ctx, KindSchedule, Message{
		Title:    fmt.Sprintf("%s out of schedule", n.applianceName),
		Body:     body,
		Tag:      fmt.Sprintf("%s_schedule", n.applianceName),
		Severity: severity,
	})
}

// NotifyAnomaly reports a statistically unusual running cycle.
func (n *Notifier) NotifyAnomaly(ctx context.Context, score, duration, energy float64) {
	n.send(ctx, KindAnomaly, Message{
		Title: fmt.Sprintf("%s unusual %s", n.applianceName, n.cycleWord()),
		Body: fmt.Sprintf("Current %s deviates from recent history (score %.0f/100, %.1f min, %.3f kWh).",
			n.cycleWord(), score, duration, energy),
		Tag:      fmt.Sprintf("%s_anomaly", n.applianceName),
		Severity: "warning",
	})
}

// NotifyAIAnalysis delivers the summary produced by the analysis service.
func (n *Notifier) NotifyAIAnalysis(ctx context.Context, summary string) {
	n.send(ctx, KindAIAnalysis, Message{
		Title:    fmt.Sprintf("%s analysis", n.applianceName),
		Body:     summary,
		Tag:      fmt.Sprintf("%s_ai_analysis", n.applianceName),
		Severity: "info",
	})
}

func titleWord(w string) string {
	if w == "" || w[0] < 'a' || w[0] > 'z' {
		return w
	}
	return string(w[0]-'a'+'A') + w[1:]
}
