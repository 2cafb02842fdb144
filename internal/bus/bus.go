// Package bus publishes and consumes appliance events over MQTT. Topics are
// laid out as <namespace>/<appliance_id>/<event>, with retained messages left
// to the broker defaults (events are transient, samples are not ours).
package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Namespace prefixes every topic owned by this service.
const Namespace = "appliancemon"

// EventKind names the events published on the bus.
type EventKind string

const (
	EventCycleStarted        EventKind = "cycle_started"
	EventCycleFinished       EventKind = "cycle_finished"
	EventAlertDuration       EventKind = "alert_duration"
	EventUnplugged           EventKind = "unplugged"
	EventAutoShutdown        EventKind = "auto_shutdown"
	EventEnergyLimitExceeded EventKind = "energy_limit_exceeded"
	EventBudgetExceeded      EventKind = "budget_exceeded"
	EventUsageOutOfSchedule  EventKind = "usage_out_of_schedule"
	EventAnomalyDetected     EventKind = "anomaly_detected"
	EventAIAnalysisCompleted EventKind = "ai_analysis_completed"
	EventAIAnalysisFailed    EventKind = "ai_analysis_failed"
	EventStatsReset          EventKind = "stats_reset"
)

// Topic returns the full topic for an appliance event.
func Topic(applianceID string, kind EventKind) string {
	return fmt.Sprintf("%s/%s/%s", Namespace, applianceID, kind)
}

// Bus is the event publishing capability handed to the engines.
type Bus struct {
	client mqtt.Client
	log    zerolog.Logger
}

// New wraps an already connected MQTT client.
func New(client mqtt.Client, log zerolog.Logger) *Bus {
	return &Bus{client: client, log: log}
}

// Publish serialises payload as JSON and publishes it at QoS 1.
func (b *Bus) Publish(applianceID string, kind EventKind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	token := b.client.Publish(Topic(applianceID, kind), 1, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timed out", kind)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

// Subscribe registers fn for one event kind across all appliances.
func (b *Bus) Subscribe(kind EventKind, fn func(applianceID string, payload []byte)) error {
	topic := fmt.Sprintf("%s/+/%s", Namespace, kind)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		parts := strings.Split(msg.Topic(), "/")
		if len(parts) != 3 {
			return
		}
		fn(parts[1], msg.Payload())
	}
	if token := b.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// TurnOffSwitch publishes an OFF command to a controlled switch. The topic is
// the switch's command topic (Tasmota/zigbee2mqtt convention).
func (b *Bus) TurnOffSwitch(commandTopic string) error {
	token := b.client.Publish(commandTopic, 1, false, []byte("OFF"))
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("turn off %s: timed out", commandTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("turn off %s: %w", commandTopic, err)
	}
	b.log.Info().Str("topic", commandTopic).Msg("switch turned off")
	return nil
}
