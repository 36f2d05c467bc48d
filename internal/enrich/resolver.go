package enrich

import (
	"context"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/xkilldash9x/routelens/api/schemas"
)

// MetadataSource is the read-only lookup the resolver queries. Satisfied by
// *store.Store.
type MetadataSource interface {
	MetadataForIP(ctx context.Context, ip string) (schemas.IPMetadata, error)
}

// Resolver turns IP addresses into their persisted enrichment rows. It is
// deliberately stateless: the metadata table can be re-ingested between
// requests, so every resolution goes back to the store.
type Resolver struct {
	source MetadataSource
	log    *zap.Logger
}

// NewResolver creates a Resolver backed by the given metadata source.
func NewResolver(source MetadataSource, logger *zap.Logger) *Resolver {
	return &Resolver{
		source: source,
		log:    logger.Named("resolver"),
	}
}

// Resolve looks up the metadata row for one IP address. A malformed address
// is ErrInvalidInput; a missing row is the unknown sentinel, not an error.
// Private and loopback addresses never reach the store: the metadata table
// only holds public address space.
func (r *Resolver) Resolve(ctx context.Context, ip string) (schemas.IPMetadata, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return schemas.IPMetadata{}, fmt.Errorf("ip address %q: %w", ip, schemas.ErrInvalidInput)
	}

	if isPrivate(addr) {
		return schemas.UnknownMetadata(ip), nil
	}

	meta, err := r.source.MetadataForIP(ctx, addr.String())
	if err != nil {
		return schemas.IPMetadata{}, err
	}
	if !meta.Resolved {
		r.log.Debug("No metadata row for address", zap.String("ip", ip))
	}
	return meta, nil
}

// isPrivate reports whether the address belongs to non-routable space.
func isPrivate(addr netip.Addr) bool {
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}
