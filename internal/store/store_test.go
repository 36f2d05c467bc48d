package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/routelens/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const (
	sqlTraceHops = `
        SELECT trace_id, hop_index, probe_id, ip, rtt_ms, observed_at
        FROM hops
        WHERE trace_id = $1
        ORDER BY hop_index ASC;
    `
	sqlMetadataForIP = `
        SELECT ip, country, city, latitude, longitude, asn, organization, category
        FROM ip_metadata
        WHERE ip = $1;
    `
)

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func ptr[T any](v T) *T { return &v }

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, time.Second, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTraceHops(t *testing.T) {
	ctx := context.Background()

	t.Run("returns hops ordered by index with nullable fields intact", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		traceID := uuid.NewString()
		now := time.Now().UTC()
		columns := []string{"trace_id", "hop_index", "probe_id", "ip", "rtt_ms", "observed_at"}
		rows := pgxmock.NewRows(columns).
			AddRow(traceID, 1, "probe-7", ptr("10.0.0.1"), ptr(1.2), now).
			AddRow(traceID, 2, "probe-7", (*string)(nil), (*float64)(nil), now).
			AddRow(traceID, 3, "probe-7", ptr("200.160.2.3"), ptr(18.4), now)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlTraceHops)).
			WithArgs(traceID).
			WillReturnRows(rows)

		hops, err := s.TraceHops(ctx, traceID)
		require.NoError(t, err)
		require.Len(t, hops, 3)

		assert.Equal(t, 1, hops[0].HopIndex)
		assert.Equal(t, "10.0.0.1", *hops[0].IP)
		assert.Nil(t, hops[1].IP, "timed-out hop keeps its null IP")
		assert.Nil(t, hops[1].RTTMs, "timed-out hop keeps its null RTT")
		assert.Equal(t, 18.4, *hops[2].RTTMs)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("empty trace yields ErrNotFound", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		traceID := uuid.NewString()
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlTraceHops)).
			WithArgs(traceID).
			WillReturnRows(pgxmock.NewRows([]string{"trace_id", "hop_index", "probe_id", "ip", "rtt_ms", "observed_at"}))

		_, err := s.TraceHops(ctx, traceID)
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("driver failures surface as retryable store errors", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		traceID := uuid.NewString()
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlTraceHops)).
			WithArgs(traceID).
			WillReturnError(errors.New("connection refused"))

		_, err := s.TraceHops(ctx, traceID)
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, schemas.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("caller cancellation is not reported as a store outage", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		traceID := uuid.NewString()
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlTraceHops)).
			WithArgs(traceID).
			WillReturnError(context.Canceled)

		_, err := s.TraceHops(ctx, traceID)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, schemas.ErrStoreUnavailable)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMetadataForIP(t *testing.T) {
	ctx := context.Background()

	t.Run("returns a resolved row", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		columns := []string{"ip", "country", "city", "latitude", "longitude", "asn", "organization", "category"}
		rows := pgxmock.NewRows(columns).
			AddRow("200.160.2.3", "BR", "Sao Paulo", ptr(-23.55), ptr(-46.63), ptr(uint32(22548)), "NIC.br", "academic")

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlMetadataForIP)).
			WithArgs("200.160.2.3").
			WillReturnRows(rows)

		m, err := s.MetadataForIP(ctx, "200.160.2.3")
		require.NoError(t, err)
		assert.True(t, m.Resolved)
		assert.Equal(t, "BR", m.Country)
		assert.Equal(t, schemas.CategoryAcademic, m.Category)
		assert.Equal(t, uint32(22548), *m.ASN)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("missing row is the unknown sentinel, not an error", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlMetadataForIP)).
			WithArgs("192.0.2.55").
			WillReturnError(pgx.ErrNoRows)

		m, err := s.MetadataForIP(ctx, "192.0.2.55")
		require.NoError(t, err)
		assert.False(t, m.Resolved)
		assert.Equal(t, schemas.CategoryUnknown, m.Category)
		assert.Equal(t, "192.0.2.55", m.IP)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("unrecognized category collapses to unknown", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		columns := []string{"ip", "country", "city", "latitude", "longitude", "asn", "organization", "category"}
		rows := pgxmock.NewRows(columns).
			AddRow("198.51.100.9", "US", "Ashburn", ptr(39.04), ptr(-77.49), ptr(uint32(64496)), "ExampleNet", "satellite")

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlMetadataForIP)).
			WithArgs("198.51.100.9").
			WillReturnRows(rows)

		m, err := s.MetadataForIP(ctx, "198.51.100.9")
		require.NoError(t, err)
		assert.True(t, m.Resolved)
		assert.Equal(t, schemas.CategoryUnknown, m.Category)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("connectivity failure is retryable, never silent unknown", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlMetadataForIP)).
			WithArgs("203.0.113.1").
			WillReturnError(errors.New("server closed the connection unexpectedly"))

		_, err := s.MetadataForIP(ctx, "203.0.113.1")
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrStoreUnavailable)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestDescribeTable(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects non-identifier table names before touching the pool", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		_, err := s.DescribeTable(ctx, "hops; DROP TABLE hops")
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrInvalidInput)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("unknown table yields ErrNotFound", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		mockPool.ExpectQuery("SELECT column_name, data_type").
			WithArgs("ghosts").
			WillReturnRows(pgxmock.NewRows([]string{"column_name", "data_type"}))

		_, err := s.DescribeTable(ctx, "ghosts")
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestListTables(t *testing.T) {
	s, mockPool := newTestStore(t)

	rows := pgxmock.NewRows([]string{"table_name"}).
		AddRow("hops").
		AddRow("ip_metadata")
	mockPool.ExpectQuery("SELECT table_name").WillReturnRows(rows)

	tables, err := s.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hops", "ip_metadata"}, tables)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
