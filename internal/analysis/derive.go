// Package analysis derives per-transition features from an enriched hop
// sequence and classifies routing anomalies against a configured rule set.
package analysis

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/routelens/api/schemas"
)

// Deriver turns an ordered enriched hop sequence into its transition
// feature list. Derivation is pure: it never touches storage and never
// fails, missing inputs simply yield nil features.
type Deriver struct {
	spikeThresholdMs float64
	log              *zap.Logger
}

// NewDeriver constructs a Deriver. spikeThresholdMs is the minimum positive
// RTT delta, in milliseconds, that marks an international transition as a
// latency spike.
func NewDeriver(spikeThresholdMs float64, logger *zap.Logger) *Deriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deriver{
		spikeThresholdMs: spikeThresholdMs,
		log:              logger.Named("deriver"),
	}
}

// Derive produces exactly len(hops)-1 transitions, one per consecutive hop
// pair, preserving hop order. A sequence of fewer than two hops has no
// transitions.
func (d *Deriver) Derive(hops []schemas.EnrichedHop) []schemas.PathTransition {
	if len(hops) < 2 {
		return nil
	}

	transitions := make([]schemas.PathTransition, 0, len(hops)-1)
	for i := 0; i < len(hops)-1; i++ {
		from, to := &hops[i], &hops[i+1]

		t := schemas.PathTransition{
			FromIndex: from.HopIndex,
			ToIndex:   to.HopIndex,
			Jump:      classifyJump(from, to),
		}

		if from.Metadata.HasCoordinates() && to.Metadata.HasCoordinates() {
			km := greatCircleKm(
				*from.Metadata.Latitude, *from.Metadata.Longitude,
				*to.Metadata.Latitude, *to.Metadata.Longitude,
			)
			t.DistanceKm = &km
		}

		if from.RTTMs != nil && to.RTTMs != nil {
			delta := *to.RTTMs - *from.RTTMs
			t.RTTDeltaMs = &delta
			if delta >= d.spikeThresholdMs && t.Jump == schemas.JumpInternational {
				t.LatencySpike = true
			}
		}

		transitions = append(transitions, t)
	}
	return transitions
}

// classifyJump compares the country codes on both sides of a transition.
// Either side lacking a resolved country makes the jump unknown rather than
// guessing at a border crossing.
func classifyJump(from, to *schemas.EnrichedHop) schemas.GeoJump {
	if from.Metadata.Country == "" || to.Metadata.Country == "" {
		return schemas.JumpUnknown
	}
	if from.Metadata.Country == to.Metadata.Country {
		return schemas.JumpDomestic
	}
	return schemas.JumpInternational
}
