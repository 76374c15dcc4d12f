package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	reading "voltage-monitor/internal/reading/domain"
)

// Filters narrows a raw reading query. Zero values impose no constraint.
type Filters struct {
	DeviceID   string
	MinVoltage *float64
	MaxVoltage *float64
}

// Query is the Postgres read side for voltage readings.
type Query struct {
	db    *sql.DB
	table string
}

// NewQuery constructs a query with the default table name.
func NewQuery(db *sql.DB, opts ...QueryOption) *Query {
	query := &Query{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// QueryOption configures the reading query.
type QueryOption func(*Query)

// WithQueryTable overrides the default table name for queries.
func WithQueryTable(table string) QueryOption {
	return func(query *Query) {
		if query != nil && table != "" {
			query.table = table
		}
	}
}

// QueryRaw returns readings with timestamp in [from, to), ascending by
// timestamp. Voltage bounds are inclusive.
func (q *Query) QueryRaw(ctx context.Context, from, to time.Time, filters Filters) ([]reading.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return nil, errors.New("reading query: invalid window")
	}

	query := fmt.Sprintf(`
SELECT device_id, timestamp, voltage, created_at
FROM %s
WHERE timestamp >= $1 AND timestamp < $2`, q.table)
	args := []any{from, to}

	if filters.MinVoltage != nil {
		args = append(args, *filters.MinVoltage)
		query += fmt.Sprintf(" AND voltage >= $%d", len(args))
	}
	if filters.MaxVoltage != nil {
		args = append(args, *filters.MaxVoltage)
		query += fmt.Sprintf(" AND voltage <= $%d", len(args))
	}
	if filters.DeviceID != "" {
		args = append(args, filters.DeviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	query += " ORDER BY timestamp ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reading.Reading
	for rows.Next() {
		var item reading.Reading
		var createdAt sql.NullTime
		if err := rows.Scan(&item.DeviceID, &item.Timestamp, &item.VoltageVolts, &createdAt); err != nil {
			return nil, err
		}
		item.Timestamp = item.Timestamp.UTC()
		if createdAt.Valid {
			item.RecordedAt = createdAt.Time.UTC()
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListDeviceIDs returns the distinct device ids present in the store, ordered.
func (q *Query) ListDeviceIDs(ctx context.Context) ([]string, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}

	query := fmt.Sprintf(`
SELECT DISTINCT device_id
FROM %s
ORDER BY device_id`, q.table)

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// LatestByDevice returns the most recent readings for one device, newest first.
func (q *Query) LatestByDevice(ctx context.Context, deviceID string, limit int) ([]reading.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("reading query: empty device id")
	}
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
SELECT device_id, timestamp, voltage, created_at
FROM %s
WHERE device_id = $1
ORDER BY timestamp DESC
LIMIT $2`, q.table)

	rows, err := q.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reading.Reading
	for rows.Next() {
		var item reading.Reading
		var createdAt sql.NullTime
		if err := rows.Scan(&item.DeviceID, &item.Timestamp, &item.VoltageVolts, &createdAt); err != nil {
			return nil, err
		}
		item.Timestamp = item.Timestamp.UTC()
		if createdAt.Valid {
			item.RecordedAt = createdAt.Time.UTC()
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
