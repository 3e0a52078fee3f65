package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// Row limits for List. A non-positive limit means DefaultReadingsLimit;
// larger limits are capped at MaxReadingsLimit.
const (
	DefaultReadingsLimit = 100
	MaxReadingsLimit     = 1000
)

const (

	// readingTimeLayout stores UTC at second precision.
	readingTimeLayout = "2006-01-02T15:04:05Z"
)

// Reading is one persisted, classified meter value.
type Reading struct {
	// ID is the auto-incremented sequence id.
	ID int64 `json:"id"`

	// Timestamp is the UTC time of the cycle, truncated to the second.
	Timestamp time.Time `json:"utc"`

	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Function string  `json:"function"`
	Result   Result  `json:"result"`
}

// NewReading classifies a snapshot's meter value against band.
func NewReading(s Snapshot, band Band) Reading {
	return Reading{
		Timestamp: s.Timestamp.UTC().Truncate(time.Second),
		Value:     s.MeterReading,
		Unit:      s.MeterUnit,
		Function:  s.MeterFunction,
		Result:    band.Classify(s.MeterReading),
	}
}

// ReadingRepository stores classified readings. Rows are never updated or
// deleted.
type ReadingRepository interface {
	// Append stores r and returns its sequence id.
	Append(ctx context.Context, r Reading) (int64, error)

	// List returns the most recent readings, newest first.
	List(ctx context.Context, limit int) ([]Reading, error)
}

// SQLiteReadingRepository implements ReadingRepository on the readings
// table.
type SQLiteReadingRepository struct {
	db *sql.DB
}

// NewSQLiteReadingRepository creates a repository over an open database.
func NewSQLiteReadingRepository(db *sql.DB) *SQLiteReadingRepository {
	return &SQLiteReadingRepository{db: db}
}

// Append inserts one reading.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - r: Reading to store; ID is ignored and Timestamp defaults to now
//
// Returns:
//   - int64: the new row id
//   - error: ErrInvalidReading for a non-finite value or unknown result,
//     otherwise the underlying database error
func (s *SQLiteReadingRepository) Append(ctx context.Context, r Reading) (int64, error) {
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return 0, fmt.Errorf("%w: value %v", ErrInvalidReading, r.Value)
	}
	if r.Result != ResultPassed && r.Result != ResultFailed {
		return 0, fmt.Errorf("%w: result %q", ErrInvalidReading, r.Result)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO readings (utc, value, unit, function, result) VALUES (?, ?, ?, ?, ?)",
		r.Timestamp.UTC().Format(readingTimeLayout),
		r.Value,
		r.Unit,
		r.Function,
		string(r.Result),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting reading: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading insert id: %w", err)
	}
	return id, nil
}

// List returns the most recent readings, newest first (default 100, max
// 1000).
func (s *SQLiteReadingRepository) List(ctx context.Context, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = DefaultReadingsLimit
	}
	if limit > MaxReadingsLimit {
		limit = MaxReadingsLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, utc, value, unit, function, result
		 FROM readings
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := make([]Reading, 0, limit)
	for rows.Next() {
		var (
			r      Reading
			utc    string
			result string
		)
		if err := rows.Scan(&r.ID, &utc, &r.Value, &r.Unit, &r.Function, &result); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		ts, err := time.Parse(readingTimeLayout, utc)
		if err != nil {
			return nil, fmt.Errorf("parsing reading time %q: %w", utc, err)
		}
		r.Timestamp = ts
		r.Result = Result(result)
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}
