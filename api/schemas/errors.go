package schemas

import "errors"

// Sentinel errors shared across the enrichment pipeline. Callers match them
// with errors.Is; lower layers wrap them with context via fmt.Errorf.
var (
	// ErrInvalidInput marks a malformed trace identifier or IP address.
	// Never retried; surfaced to the caller immediately.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a trace identifier with no hop rows. Surfaced as an
	// empty-result condition, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable marks a transient store or connectivity failure,
	// including per-request timeouts. Callers may retry with backoff. It is
	// never silently collapsed into "no metadata".
	ErrStoreUnavailable = errors.New("store unavailable")
)
