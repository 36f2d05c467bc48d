package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/routelens/api/schemas"
)

func ptr[T any](v T) *T { return &v }

// enrichedHop builds a resolved hop with the given position, RTT and location.
func enrichedHop(index int, rtt *float64, country, city string, lat, lon *float64) schemas.EnrichedHop {
	ip := "198.51.100.1"
	return schemas.EnrichedHop{
		TraceID:  "trace-1",
		HopIndex: index,
		ProbeID:  "probe-1",
		IP:       &ip,
		RTTMs:    rtt,
		Metadata: schemas.IPMetadata{
			IP:        ip,
			Country:   country,
			City:      city,
			Latitude:  lat,
			Longitude: lon,
			Category:  schemas.CategoryTransit,
			Resolved:  country != "",
		},
	}
}

// unresolvedHop builds a hop whose metadata lookup found nothing.
func unresolvedHop(index int, rtt *float64) schemas.EnrichedHop {
	ip := "203.0.113.9"
	return schemas.EnrichedHop{
		TraceID:  "trace-1",
		HopIndex: index,
		ProbeID:  "probe-1",
		IP:       &ip,
		RTTMs:    rtt,
		Metadata: schemas.UnknownMetadata(ip),
	}
}

func TestDeriveTransitionCount(t *testing.T) {
	d := NewDeriver(50, zap.NewNop())

	assert.Nil(t, d.Derive(nil))
	assert.Nil(t, d.Derive([]schemas.EnrichedHop{enrichedHop(1, ptr(5.0), "US", "Dallas", nil, nil)}))

	hops := []schemas.EnrichedHop{
		enrichedHop(1, ptr(5.0), "US", "Dallas", nil, nil),
		enrichedHop(2, ptr(9.0), "US", "Chicago", nil, nil),
		enrichedHop(3, ptr(14.0), "US", "New York", nil, nil),
	}
	transitions := d.Derive(hops)
	require.Len(t, transitions, 2)
	assert.Equal(t, 1, transitions[0].FromIndex)
	assert.Equal(t, 2, transitions[0].ToIndex)
	assert.Equal(t, 2, transitions[1].FromIndex)
	assert.Equal(t, 3, transitions[1].ToIndex)
}

func TestDeriveJumpClassification(t *testing.T) {
	d := NewDeriver(50, zap.NewNop())

	hops := []schemas.EnrichedHop{
		enrichedHop(1, ptr(3.0), "BR", "Sao Paulo", nil, nil),
		enrichedHop(2, ptr(7.0), "BR", "Rio de Janeiro", nil, nil),
		enrichedHop(3, ptr(120.0), "US", "Miami", nil, nil),
		unresolvedHop(4, ptr(130.0)),
	}
	transitions := d.Derive(hops)
	require.Len(t, transitions, 3)

	assert.Equal(t, schemas.JumpDomestic, transitions[0].Jump)
	assert.Equal(t, schemas.JumpInternational, transitions[1].Jump)
	assert.Equal(t, schemas.JumpUnknown, transitions[2].Jump)
}

func TestDeriveDistanceNilPropagation(t *testing.T) {
	d := NewDeriver(50, zap.NewNop())

	hops := []schemas.EnrichedHop{
		// Sao Paulo -> Miami, both with coordinates.
		enrichedHop(1, ptr(3.0), "BR", "Sao Paulo", ptr(-23.55), ptr(-46.63)),
		enrichedHop(2, ptr(120.0), "US", "Miami", ptr(25.76), ptr(-80.19)),
		// Next hop resolved but without coordinates.
		enrichedHop(3, ptr(125.0), "US", "", nil, nil),
	}
	transitions := d.Derive(hops)
	require.Len(t, transitions, 2)

	require.NotNil(t, transitions[0].DistanceKm)
	// Great-circle Sao Paulo -> Miami is roughly 6560 km.
	assert.InDelta(t, 6560, *transitions[0].DistanceKm, 60)

	assert.Nil(t, transitions[1].DistanceKm, "missing coordinates must yield nil, not zero")
}

func TestDeriveRTTDelta(t *testing.T) {
	d := NewDeriver(50, zap.NewNop())

	hops := []schemas.EnrichedHop{
		enrichedHop(1, ptr(10.0), "BR", "Sao Paulo", nil, nil),
		enrichedHop(2, ptr(180.0), "US", "Miami", nil, nil),
		enrichedHop(3, nil, "US", "Miami", nil, nil),
		enrichedHop(4, ptr(90.0), "US", "Dallas", nil, nil),
	}
	transitions := d.Derive(hops)
	require.Len(t, transitions, 3)

	require.NotNil(t, transitions[0].RTTDeltaMs)
	assert.Equal(t, 170.0, *transitions[0].RTTDeltaMs)

	// Either side lacking an RTT leaves the delta nil.
	assert.Nil(t, transitions[1].RTTDeltaMs)
	assert.Nil(t, transitions[2].RTTDeltaMs)
}

func TestDeriveLatencySpike(t *testing.T) {
	d := NewDeriver(50, zap.NewNop())

	hops := []schemas.EnrichedHop{
		enrichedHop(1, ptr(10.0), "BR", "Sao Paulo", nil, nil),
		enrichedHop(2, ptr(180.0), "US", "Miami", nil, nil), // +170ms international
		enrichedHop(3, ptr(240.0), "US", "Dallas", nil, nil), // +60ms but domestic
		enrichedHop(4, ptr(258.0), "DE", "Frankfurt", nil, nil), // international but +18ms
	}
	transitions := d.Derive(hops)
	require.Len(t, transitions, 3)

	assert.True(t, transitions[0].LatencySpike, "large delta on an international jump is a spike")
	assert.False(t, transitions[1].LatencySpike, "domestic jumps never spike")
	assert.False(t, transitions[2].LatencySpike, "delta below the threshold is not a spike")
}

func TestDeriveNegativeDeltaNeverSpikes(t *testing.T) {
	d := NewDeriver(50, zap.NewNop())

	hops := []schemas.EnrichedHop{
		enrichedHop(1, ptr(200.0), "BR", "Sao Paulo", nil, nil),
		enrichedHop(2, ptr(20.0), "US", "Miami", nil, nil),
	}
	transitions := d.Derive(hops)
	require.Len(t, transitions, 1)

	require.NotNil(t, transitions[0].RTTDeltaMs)
	assert.Equal(t, -180.0, *transitions[0].RTTDeltaMs)
	assert.False(t, transitions[0].LatencySpike)
}

func TestGreatCircleKnownDistances(t *testing.T) {
	// London -> New York, a well-known reference of ~5570 km.
	assert.InDelta(t, 5570, greatCircleKm(51.5074, -0.1278, 40.7128, -74.0060), 30)
	// Zero distance for identical points.
	assert.InDelta(t, 0, greatCircleKm(48.85, 2.35, 48.85, 2.35), 0.001)
	// Antipodal-ish sanity bound: nothing exceeds half the circumference.
	assert.Less(t, greatCircleKm(90, 0, -90, 0), 20040.0)
}
