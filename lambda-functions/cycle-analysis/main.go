// The cycle-analysis function turns a finished cycle plus its recent history
// into a short human-readable summary. The monitor invokes it after every
// completed cycle when AI analysis is enabled.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
)

type cycle struct {
	Duration  float64 `json:"duration"` // minutes
	Energy    float64 `json:"energy"`   // kWh
	Cost      float64 `json:"cost"`
	PeakPower float64 `json:"peak_power"`
}

type historyEntry struct {
	Duration float64 `json:"duration"`
	Energy   float64 `json:"energy"`
	Cost     float64 `json:"cost"`
}

type dailyStats struct {
	Cycles      int     `json:"cycles"`
	TotalEnergy float64 `json:"total_energy"`
	TotalCost   float64 `json:"total_cost"`
}

type monthlyStats struct {
	TotalEnergy float64 `json:"total_energy"`
	TotalCost   float64 `json:"total_cost"`
}

type request struct {
	ApplianceName string         `json:"appliance_name"`
	ApplianceType string         `json:"appliance_type"`
	LastCycle     cycle          `json:"last_cycle"`
	History       []historyEntry `json:"history"`
	DailyStats    dailyStats     `json:"daily_stats"`
	MonthlyStats  monthlyStats   `json:"monthly_stats"`
}

type response struct {
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

func handler(_ context.Context, req request) (response, error) {
	if req.ApplianceName == "" {
		return response{Error: "appliance_name is required"}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s finished a %.0f-minute run using %.2f kWh (%.2f).",
		req.ApplianceName, req.LastCycle.Duration, req.LastCycle.Energy, req.LastCycle.Cost)

	if len(req.History) >= 3 {
		var meanDur, meanEnergy float64
		for _, h := range req.History {
			meanDur += h.Duration
			meanEnergy += h.Energy
		}
		meanDur /= float64(len(req.History))
		meanEnergy /= float64(len(req.History))

		switch {
		case meanEnergy > 0 && req.LastCycle.Energy > meanEnergy*1.3:
			fmt.Fprintf(&sb, " Energy use was %.0f%% above the recent average; a fuller load or a more intensive program would explain it.",
				(req.LastCycle.Energy/meanEnergy-1)*100)
		case meanEnergy > 0 && req.LastCycle.Energy < meanEnergy*0.7:
			sb.WriteString(" Energy use was well below the recent average.")
		default:
			sb.WriteString(" Consumption was in line with recent runs.")
		}
		if meanDur > 0 && req.LastCycle.Duration > meanDur*1.5 {
			fmt.Fprintf(&sb, " It also ran noticeably longer than usual (average %.0f min).", meanDur)
		}
	}

	fmt.Fprintf(&sb, " Today: %d run(s), %.2f kWh. This month: %.2f kWh, %.2f total.",
		req.DailyStats.Cycles, req.DailyStats.TotalEnergy,
		req.MonthlyStats.TotalEnergy, req.MonthlyStats.TotalCost)

	return response{Summary: sb.String()}, nil
}

func main() {
	lambda.Start(handler)
}
