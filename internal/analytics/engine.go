package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Granularity is the bucket width for aggregation.
type Granularity string

const (
	GranularityRaw   Granularity = "raw"
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

// ParseGranularity validates a scale parameter. Empty defaults to hour.
func ParseGranularity(value string) (Granularity, error) {
	switch value {
	case "":
		return GranularityHour, nil
	case string(GranularityRaw), string(GranularityHour), string(GranularityDay), string(GranularityMonth):
		return Granularity(value), nil
	default:
		return "", fmt.Errorf("analytics: unknown scale %q", value)
	}
}

// Request describes one aggregation query. HoursBack of 0 defaults to 24.
// Voltage bounds are inclusive and applied to readings before bucketing;
// every filter is conjunctive.
type Request struct {
	Granularity Granularity
	HoursBack   int
	MinVoltage  *float64
	MaxVoltage  *float64
	DeviceID    string
}

// Bucket is aggregated statistics for one device over one granularity window.
// For raw granularity every reading is its own bucket with avg=min=max and
// count=1.
type Bucket struct {
	DeviceID    string
	BucketStart time.Time
	AvgVoltage  float64
	MinVoltage  float64
	MaxVoltage  float64
	Count       int
}

// DeviceStats summarizes one device over a window.
type DeviceStats struct {
	DeviceID       string
	Count          int
	AvgVoltage     float64
	MinVoltage     float64
	MaxVoltage     float64
	FirstTimestamp time.Time
	LastTimestamp  time.Time
}

// StatsRequest describes a per-device stats query. HoursBack of 0 defaults to
// 24: the window is always bounded.
type StatsRequest struct {
	HoursBack  int
	MinVoltage *float64
	MaxVoltage *float64
	DeviceID   string
}

// Clock supplies "now" in the same naive fixed-offset convention the readings
// are stored in.
type Clock interface {
	Now() time.Time
}

const defaultHoursBack = 24

// Engine answers bucketed aggregation queries against the reading store.
// Bucket truncation happens in SQL on the stored naive timestamps, so the
// civil offset never participates in the computation.
type Engine struct {
	db    *sql.DB
	table string
	clock Clock
}

// NewEngine constructs an Engine.
func NewEngine(db *sql.DB, table string, clock Clock) (*Engine, error) {
	if db == nil {
		return nil, errors.New("analytics: nil db")
	}
	if table == "" {
		return nil, errors.New("analytics: empty table")
	}
	if clock == nil {
		return nil, errors.New("analytics: nil clock")
	}
	return &Engine{db: db, table: table, clock: clock}, nil
}

// Aggregate returns buckets for the window [now - hoursBack, now), ordered by
// bucket start ascending with ties broken by device id. An empty result is a
// valid outcome.
func (e *Engine) Aggregate(ctx context.Context, req Request) ([]Bucket, error) {
	if e == nil || e.db == nil {
		return nil, errors.New("analytics: nil engine")
	}
	if req.HoursBack < 0 {
		return nil, errors.New("analytics: hours must be positive")
	}
	if req.Granularity == "" {
		req.Granularity = GranularityHour
	}

	hoursBack := req.HoursBack
	if hoursBack == 0 {
		hoursBack = defaultHoursBack
	}
	from := e.clock.Now().Add(-time.Duration(hoursBack) * time.Hour)

	query, args := buildDataQuery(e.table, req, from)
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make([]Bucket, 0)
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.DeviceID, &b.BucketStart, &b.AvgVoltage, &b.MinVoltage, &b.MaxVoltage, &b.Count); err != nil {
			return nil, err
		}
		b.BucketStart = b.BucketStart.UTC()
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return buckets, nil
}

// Stats returns per-device statistics over the window, ordered by device id.
func (e *Engine) Stats(ctx context.Context, req StatsRequest) ([]DeviceStats, error) {
	if e == nil || e.db == nil {
		return nil, errors.New("analytics: nil engine")
	}
	if req.HoursBack < 0 {
		return nil, errors.New("analytics: hours must be positive")
	}

	hoursBack := req.HoursBack
	if hoursBack == 0 {
		hoursBack = defaultHoursBack
	}
	from := e.clock.Now().Add(-time.Duration(hoursBack) * time.Hour)

	query, args := buildStatsQuery(e.table, req, from)
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]DeviceStats, 0)
	for rows.Next() {
		var s DeviceStats
		if err := rows.Scan(&s.DeviceID, &s.Count, &s.AvgVoltage, &s.MinVoltage, &s.MaxVoltage, &s.FirstTimestamp, &s.LastTimestamp); err != nil {
			return nil, err
		}
		s.FirstTimestamp = s.FirstTimestamp.UTC()
		s.LastTimestamp = s.LastTimestamp.UTC()
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func buildDataQuery(table string, req Request, from time.Time) (string, []any) {
	var query string
	switch req.Granularity {
	case GranularityHour, GranularityDay, GranularityMonth:
		query = fmt.Sprintf(`
SELECT
	device_id,
	DATE_TRUNC('%s', timestamp) AS time_bucket,
	AVG(voltage) AS avg_voltage,
	MIN(voltage) AS min_voltage,
	MAX(voltage) AS max_voltage,
	COUNT(*) AS reading_count
FROM %s
WHERE timestamp >= $1`, req.Granularity, table)
	default:
		query = fmt.Sprintf(`
SELECT
	device_id,
	timestamp AS time_bucket,
	voltage AS avg_voltage,
	voltage AS min_voltage,
	voltage AS max_voltage,
	1 AS reading_count
FROM %s
WHERE timestamp >= $1`, table)
	}

	args := []any{from}
	query, args = appendFilters(query, args, req.MinVoltage, req.MaxVoltage, req.DeviceID)

	if req.Granularity != GranularityRaw {
		query += "\nGROUP BY device_id, time_bucket"
	}
	query += "\nORDER BY time_bucket ASC, device_id ASC"
	return query, args
}

func buildStatsQuery(table string, req StatsRequest, from time.Time) (string, []any) {
	query := fmt.Sprintf(`
SELECT
	device_id,
	COUNT(*) AS total_readings,
	AVG(voltage) AS avg_voltage,
	MIN(voltage) AS min_voltage,
	MAX(voltage) AS max_voltage,
	MIN(timestamp) AS first_reading,
	MAX(timestamp) AS last_reading
FROM %s
WHERE timestamp >= $1`, table)

	args := []any{from}
	query, args = appendFilters(query, args, req.MinVoltage, req.MaxVoltage, req.DeviceID)

	query += "\nGROUP BY device_id\nORDER BY device_id"
	return query, args
}

func appendFilters(query string, args []any, minVoltage, maxVoltage *float64, deviceID string) (string, []any) {
	if minVoltage != nil {
		args = append(args, *minVoltage)
		query += fmt.Sprintf(" AND voltage >= $%d", len(args))
	}
	if maxVoltage != nil {
		args = append(args, *maxVoltage)
		query += fmt.Sprintf(" AND voltage <= $%d", len(args))
	}
	if deviceID != "" {
		args = append(args, deviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	return query, args
}
