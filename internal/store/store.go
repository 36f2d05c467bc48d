package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/routelens/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store provides read-only access to the persisted hop and IP metadata
// tables. It never writes: the collection pipeline owns the hop table and the
// ingestion pipeline owns the metadata table.
type Store struct {
	pool         DBPool
	queryTimeout time.Duration
	log          *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, queryTimeout time.Duration, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool:         pool,
		queryTimeout: queryTimeout,
		log:          logger.Named("store"),
	}, nil
}

// withTimeout bounds a single store read. The per-read deadline keeps one
// slow query from consuming the whole request budget.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// classify maps driver errors onto the shared taxonomy. Caller-initiated
// cancellation passes through untouched so it is never mistaken for a store
// outage; everything else transient becomes a retryable ErrStoreUnavailable.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, schemas.ErrStoreUnavailable, err)
}

// TraceHops retrieves all hop rows for a trace ordered by hop index
// ascending. A trace with no rows yields ErrNotFound.
func (s *Store) TraceHops(ctx context.Context, traceID string) ([]schemas.HopRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
        SELECT trace_id, hop_index, probe_id, ip, rtt_ms, observed_at
        FROM hops
        WHERE trace_id = $1
        ORDER BY hop_index ASC;
    `
	rows, err := s.pool.Query(ctx, query, traceID)
	if err != nil {
		return nil, classify("query hops", err)
	}
	defer rows.Close()

	var hops []schemas.HopRecord
	for rows.Next() {
		var h schemas.HopRecord
		if err := rows.Scan(&h.TraceID, &h.HopIndex, &h.ProbeID, &h.IP, &h.RTTMs, &h.ObservedAt); err != nil {
			return nil, classify("scan hop row", err)
		}
		hops = append(hops, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate hop rows", err)
	}

	if len(hops) == 0 {
		return nil, fmt.Errorf("trace %s: %w", traceID, schemas.ErrNotFound)
	}
	return hops, nil
}

// MetadataForIP looks up the enrichment row for one IP address. A missing
// row is an expected condition and returns the unknown sentinel, not an
// error; only connectivity problems surface as errors.
func (s *Store) MetadataForIP(ctx context.Context, ip string) (schemas.IPMetadata, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
        SELECT ip, country, city, latitude, longitude, asn, organization, category
        FROM ip_metadata
        WHERE ip = $1;
    `
	var (
		m        schemas.IPMetadata
		category string
	)
	err := s.pool.QueryRow(ctx, query, ip).Scan(
		&m.IP, &m.Country, &m.City, &m.Latitude, &m.Longitude, &m.ASN, &m.Organization, &category,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.UnknownMetadata(ip), nil
		}
		return schemas.IPMetadata{}, classify("query ip metadata", err)
	}

	m.Category = normalizeCategory(category)
	m.Resolved = true
	return m, nil
}

// normalizeCategory maps stored category strings onto the known set;
// anything unrecognized is treated as unknown rather than trusted blindly.
func normalizeCategory(raw string) schemas.Category {
	switch schemas.Category(raw) {
	case schemas.CategoryResidential, schemas.CategoryDatacenter, schemas.CategoryAcademic,
		schemas.CategoryTransit, schemas.CategoryProxyVPN, schemas.CategoryTor:
		return schemas.Category(raw)
	default:
		return schemas.CategoryUnknown
	}
}

// -- Read-only introspection helpers for the command surface --

// identifierPattern is deliberately strict: introspection queries interpolate
// the table name, so only plain identifiers are ever allowed through.
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// TableColumn describes one column of a public-schema table.
type TableColumn struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// TableDescription carries a table's columns plus a few sample rows.
type TableDescription struct {
	Table   string                   `json:"table"`
	Columns []TableColumn            `json:"columns"`
	Sample  []map[string]interface{} `json:"sample_data"`
}

// ListTables returns the names of all tables in the public schema.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
        SELECT table_name
        FROM information_schema.tables
        WHERE table_schema = 'public'
        ORDER BY table_name;
    `
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, classify("list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify("scan table name", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate table names", err)
	}
	return tables, nil
}

// DescribeTable returns column metadata and up to three sample rows for one
// public-schema table. The table name must be a plain identifier.
func (s *Store) DescribeTable(ctx context.Context, table string) (TableDescription, error) {
	if !identifierPattern.MatchString(table) {
		return TableDescription{}, fmt.Errorf("table name %q: %w", table, schemas.ErrInvalidInput)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	desc := TableDescription{Table: table}

	colQuery := `
        SELECT column_name, data_type
        FROM information_schema.columns
        WHERE table_name = $1
        ORDER BY ordinal_position;
    `
	rows, err := s.pool.Query(ctx, colQuery, table)
	if err != nil {
		return TableDescription{}, classify("query columns", err)
	}
	for rows.Next() {
		var col TableColumn
		if err := rows.Scan(&col.Name, &col.DataType); err != nil {
			rows.Close()
			return TableDescription{}, classify("scan column row", err)
		}
		desc.Columns = append(desc.Columns, col)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return TableDescription{}, classify("iterate column rows", err)
	}
	rows.Close()

	if len(desc.Columns) == 0 {
		return TableDescription{}, fmt.Errorf("table %s: %w", table, schemas.ErrNotFound)
	}

	// Safe concatenation: the identifier was validated above.
	sampleRows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 3", table))
	if err != nil {
		return TableDescription{}, classify("query sample rows", err)
	}
	defer sampleRows.Close()

	for sampleRows.Next() {
		values, err := sampleRows.Values()
		if err != nil {
			return TableDescription{}, classify("read sample row", err)
		}
		row := make(map[string]interface{}, len(values))
		for i, fd := range sampleRows.FieldDescriptions() {
			if i < len(values) {
				row[string(fd.Name)] = values[i]
			}
		}
		desc.Sample = append(desc.Sample, row)
	}
	if err := sampleRows.Err(); err != nil {
		return TableDescription{}, classify("iterate sample rows", err)
	}

	return desc, nil
}
