package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// LogTransport writes notifications to the structured log. Always available;
// useful as the baseline transport and in development.
type LogTransport struct {
	Log zerolog.Logger
}

func (t LogTransport) Name() string { return "log" }

func (t LogTransport) Send(_ context.Context, msg Message) error {
	ev := t.Log.Info()
	switch msg.Severity {
	case "warning":
		ev = t.Log.Warn()
	case "critical":
		ev = t.Log.Error()
	}
	ev.Str("tag", msg.Tag).Str("title", msg.Title).Msg(msg.Body)
	return nil
}

// MQTTTransport publishes notifications as JSON on a per-tag topic, where a
// companion automation or app can pick them up.
type MQTTTransport struct {
	Client mqtt.Client
	Prefix string // e.g. "appliancemon/notify"
}

func (t MQTTTransport) Name() string { return "mqtt" }

func (t MQTTTransport) Send(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	topic := fmt.Sprintf("%s/%s", t.Prefix, msg.Tag)
	token := t.Client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish notification: timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
