package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/pulseone-io/collector/internal/model"
)

// openCurrentValuesDB opens the raw database/sql connection used for the
// current_values hot-path read, grounded on the teacher's
// internal/db.Open (same DSN shape, same modernc.org/sqlite driver).
// GORM migrates the config-store tables; this connection creates the
// current_values table if it is absent and otherwise only reads.
func openCurrentValuesDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)
	s, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := s.Ping(); err != nil {
		s.Close()
		return nil, err
	}
	if _, err := s.Exec(currentValuesSchema); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

const currentValuesSchema = `
CREATE TABLE IF NOT EXISTS current_values (
    point_id TEXT PRIMARY KEY,
    current_value_json TEXT NOT NULL,
    quality_code TEXT NOT NULL,
    value_timestamp DATETIME NOT NULL,
    read_count INTEGER NOT NULL DEFAULT 0
);
`

// FindCurrentValues returns the latest CurrentValue stored for each of the
// given point ids (ids with no row are left out), generalizing the teacher's
// internal/db.DB.DevicePoints raw query from a single float64 value
// column into the JSON-encoded DataValue spec.md §3's CurrentValue
// carries.
func (r *Repository) FindCurrentValues(ctx context.Context, pointIDs []string) ([]model.CurrentValue, error) {
	if len(pointIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(pointIDs)*2)
	args := make([]any, len(pointIDs))
	for i, id := range pointIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	q := fmt.Sprintf(`SELECT point_id, current_value_json, quality_code, value_timestamp, read_count
FROM current_values WHERE point_id IN (%s)`, placeholders)

	rows, err := r.sdb.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CurrentValue
	for rows.Next() {
		var row currentValueRow
		if err := rows.Scan(&row.PointID, &row.ValueJSON, &row.Quality, &row.Timestamp, &row.ReadCount); err != nil {
			return nil, err
		}
		var dv model.DataValue
		_ = json.Unmarshal([]byte(row.ValueJSON), &dv)
		out = append(out, model.CurrentValue{
			PointID: row.PointID,
			Value: model.TimestampedValue{
				PointID: row.PointID, Value: dv, Quality: model.Quality(row.Quality),
				SourceTimestamp: row.Timestamp, IngressTimestamp: row.Timestamp,
			},
			ReadCount: row.ReadCount,
		})
	}
	return out, rows.Err()
}
