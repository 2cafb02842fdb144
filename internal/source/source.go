// Package source tracks the latest value of MQTT sensor topics and exposes
// them as point reads for the engines. A topic with no message yet, or whose
// last message is older than the staleness window, reads as unavailable.
package source

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// DefaultStaleAfter is how long a value stays readable without a fresh
// message before the source reports it unavailable.
const DefaultStaleAfter = 5 * time.Minute

// Reading is the latest observed value of a topic. Valid is false when the
// payload could not be parsed as a number.
type Reading struct {
	Value float64
	Valid bool
	At    time.Time
}

type entry struct {
	reading Reading
}

// Source is a latest-value cache over subscribed MQTT topics.
type Source struct {
	client     mqtt.Client
	log        zerolog.Logger
	staleAfter time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	values map[string]entry
}

// New wraps an already connected MQTT client.
func New(client mqtt.Client, log zerolog.Logger) *Source {
	return &Source{
		client:     client,
		log:        log,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		values:     make(map[string]entry),
	}
}

// Watch subscribes to the given topics. Safe to call with topics that are
// already watched.
func (s *Source) Watch(topics ...string) error {
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		token := s.client.Subscribe(topic, 0, s.onMessage)
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (s *Source) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.Set(msg.Topic(), string(msg.Payload()))
}

// Set records a raw payload for a topic. Exported for tests and for hosts
// that feed values out-of-band.
func (s *Source) Set(topic, payload string) {
	value, err := ParseNumber(payload)
	r := Reading{Value: value, Valid: err == nil, At: s.now()}
	if err != nil {
		s.log.Warn().Str("topic", topic).Str("payload", payload).
			Msg("unparseable sample value")
	}
	s.mu.Lock()
	s.values[topic] = entry{reading: r}
	s.mu.Unlock()
}

// Read returns the latest reading for a topic. ok is false when the topic has
// never reported or its value has gone stale.
func (s *Source) Read(topic string) (Reading, bool) {
	s.mu.RLock()
	e, found := s.values[topic]
	s.mu.RUnlock()
	if !found {
		return Reading{}, false
	}
	if s.now().Sub(e.reading.At) > s.staleAfter {
		return Reading{}, false
	}
	return e.reading, true
}

// ParseNumber accepts plain numeric payloads as well as the common
// {"value": N} JSON shape used by some sensor firmwares.
func ParseNumber(payload string) (float64, error) {
	trimmed := strings.TrimSpace(payload)
	if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return v, nil
	}
	var obj struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj.Value != nil {
		return *obj.Value, nil
	}
	return 0, strconv.ErrSyntax
}
