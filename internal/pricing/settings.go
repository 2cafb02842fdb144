package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// cacheDuration bounds how long a loaded settings file is served without
// re-reading it from disk.
const cacheDuration = 5 * time.Minute

// Settings is the shared energy configuration file (currency, default price,
// and the consumers registered with the host energy dashboard).
type Settings struct {
	Currency  string     `json:"currency"`
	PriceKWH  float64    `json:"price_kwh"`
	Consumers []Consumer `json:"consumers"`
}

// Consumer links an appliance to its energy sensor in the shared settings.
type Consumer struct {
	Name         string `json:"name"`
	EnergySensor string `json:"energy_sensor"`
}

// SettingsReader reads the shared energy settings file with a short TTL
// cache. All engines share one reader; reads never mutate beyond the cache
// reload, which a single mutex guards.
type SettingsReader struct {
	path string
	now  func() time.Time

	mu       sync.Mutex
	cached   *Settings
	cachedAt time.Time
}

// NewSettingsReader creates a reader for the given file path.
func NewSettingsReader(path string) *SettingsReader {
	return &SettingsReader{path: path, now: time.Now}
}

// Read returns the settings, served from cache when fresh.
func (r *SettingsReader) Read() (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.now().Sub(r.cachedAt) < cacheDuration {
		return *r.cached, nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return Settings{}, fmt.Errorf("read energy settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse energy settings: %w", err)
	}
	r.cached = &s
	r.cachedAt = r.now()
	return s, nil
}

// Invalidate drops the cache so the next Read hits the disk.
func (r *SettingsReader) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// HasConsumer reports whether an energy sensor is registered in the shared
// settings.
func (r *SettingsReader) HasConsumer(energySensor string) (bool, error) {
	s, err := r.Read()
	if err != nil {
		return false, err
	}
	for _, c := range s.Consumers {
		if c.EnergySensor == energySensor {
			return true, nil
		}
	}
	return false, nil
}
