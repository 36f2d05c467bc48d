package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/routelens/api/schemas"
)

// HopSource is the read-only hop retrieval the joiner depends on. Satisfied
// by *store.Store.
type HopSource interface {
	TraceHops(ctx context.Context, traceID string) ([]schemas.HopRecord, error)
}

// Joiner retrieves the ordered hop sequence for a trace and joins each hop
// with its IP metadata. Output order is always hop-index order, and every
// input hop appears in the output: a hop that never answered becomes an
// unknown-location, unknown-latency entry rather than being dropped, so
// downstream distance and RTT-delta math sees the gap instead of silently
// bridging across it.
type Joiner struct {
	hops        HopSource
	resolver    *Resolver
	concurrency int
	log         *zap.Logger
}

// NewJoiner creates a Joiner. concurrency bounds the metadata lookups issued
// in parallel for one trace; values below one fall back to serial resolution.
func NewJoiner(hops HopSource, resolver *Resolver, concurrency int, logger *zap.Logger) *Joiner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Joiner{
		hops:        hops,
		resolver:    resolver,
		concurrency: concurrency,
		log:         logger.Named("joiner"),
	}
}

// Join produces the enriched hop sequence for one trace. A malformed trace
// identifier is ErrInvalidInput; a trace with no hop rows is ErrNotFound.
// Store failures and caller cancellation abort the whole join: the caller
// gets either the complete sequence or an error, never partial output.
func (j *Joiner) Join(ctx context.Context, traceID string) ([]schemas.EnrichedHop, error) {
	if _, err := uuid.Parse(traceID); err != nil {
		return nil, fmt.Errorf("trace id %q: %w", traceID, schemas.ErrInvalidInput)
	}

	records, err := j.hops.TraceHops(ctx, traceID)
	if err != nil {
		return nil, err
	}

	enriched := make([]schemas.EnrichedHop, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)

	for i, rec := range records {
		enriched[i] = schemas.EnrichedHop{
			TraceID:    rec.TraceID,
			HopIndex:   rec.HopIndex,
			ProbeID:    rec.ProbeID,
			IP:         rec.IP,
			RTTMs:      rec.RTTMs,
			ObservedAt: rec.ObservedAt,
		}

		if rec.IP == nil {
			// Non-responding hop: keep its slot with sentinel metadata.
			enriched[i].Metadata = schemas.UnknownMetadata("")
			continue
		}

		if addr, parseErr := netip.ParseAddr(*rec.IP); parseErr == nil && isPrivate(addr) {
			enriched[i].Private = true
		}

		g.Go(func() error {
			meta, err := j.resolver.Resolve(gctx, *rec.IP)
			if err != nil {
				// A malformed address in the hop table is a data-quality
				// gap, not a reason to fail the trace: recover locally.
				if errors.Is(err, schemas.ErrInvalidInput) {
					j.log.Warn("Unparseable hop address, treating as unknown",
						zap.String("trace_id", rec.TraceID),
						zap.Int("hop_index", rec.HopIndex),
						zap.String("ip", *rec.IP))
					enriched[i].Metadata = schemas.UnknownMetadata(*rec.IP)
					return nil
				}
				return fmt.Errorf("hop %d: %w", rec.HopIndex, err)
			}
			enriched[i].Metadata = meta
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	j.log.Debug("Joined trace",
		zap.String("trace_id", traceID),
		zap.Int("hops", len(enriched)))
	return enriched, nil
}
