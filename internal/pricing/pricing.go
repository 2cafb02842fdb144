// Package pricing resolves the price per kWh used for cost computations.
// Prices are never cached per computation: a dynamic price feed is read at
// the moment a cost is derived, falling back to the configured fixed value.
package pricing

import (
	"github.com/rs/zerolog"
)

// ValueReader is the sample-source capability the resolver reads dynamic
// prices from.
type ValueReader interface {
	Read(topic string) (value float64, valid bool, available bool)
}

// Resolver yields the effective price per kWh for one appliance.
type Resolver struct {
	fixed  float64
	topic  string
	reader ValueReader
	log    zerolog.Logger
}

// NewResolver builds a resolver. topic may be empty for fixed-only pricing;
// fixed should already include any global default fallback.
func NewResolver(fixed float64, topic string, reader ValueReader, log zerolog.Logger) *Resolver {
	return &Resolver{fixed: fixed, topic: topic, reader: reader, log: log}
}

// Resolve returns the current price per kWh. A dynamic source that is
// unavailable or non-numeric falls back to the fixed price.
func (r *Resolver) Resolve() float64 {
	if r.topic == "" || r.reader == nil {
		return r.fixed
	}
	value, valid, available := r.reader.Read(r.topic)
	if !available || !valid {
		r.log.Debug().Str("topic", r.topic).
			Msg("dynamic price unavailable, using fixed price")
		return r.fixed
	}
	if value < 0 {
		r.log.Warn().Float64("price", value).Str("topic", r.topic).
			Msg("negative dynamic price ignored")
		return r.fixed
	}
	return value
}

// Fixed returns the configured fallback price.
func (r *Resolver) Fixed() float64 { return r.fixed }
