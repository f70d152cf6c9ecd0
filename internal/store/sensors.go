package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// AddReading records one sensor sample. The sensor row is created on
// first use; last_value and last_updated always reflect this call.
// A timestamp <= 0 means "now".
func (s *Store) AddReading(name, value string, timestamp int64, units string) error {
	if timestamp <= 0 {
		timestamp = time.Now().Unix()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT OR IGNORE INTO sensors (name, last_value, last_updated)
		VALUES (?, ?, ?)
	`, name, value, timestamp)
	if err != nil {
		return fmt.Errorf("create sensor: %w", err)
	}

	var sensorID int64
	if err := tx.QueryRow(`SELECT id FROM sensors WHERE name = ?`, name).Scan(&sensorID); err != nil {
		return fmt.Errorf("look up sensor: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE sensors SET last_value = ?, last_updated = ? WHERE id = ?
	`, value, timestamp, sensorID)
	if err != nil {
		return fmt.Errorf("update sensor: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO readings (sensor_id, timestamp, value, units)
		VALUES (?, ?, ?, ?)
	`, sensorID, timestamp, value, units)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}

	return tx.Commit()
}

// GetSensors returns every known sensor in creation order.
func (s *Store) GetSensors() ([]Sensor, error) {
	rows, err := s.db.Query(`SELECT id, name, last_value, last_updated FROM sensors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sensors []Sensor
	for rows.Next() {
		var sn Sensor
		var lastValue sql.NullString
		var lastUpdated sql.NullInt64
		if err := rows.Scan(&sn.ID, &sn.Name, &lastValue, &lastUpdated); err != nil {
			return nil, err
		}
		sn.LastValue = lastValue.String
		sn.LastUpdated = lastUpdated.Int64
		sensors = append(sensors, sn)
	}
	return sensors, rows.Err()
}

// GetSensor looks a sensor up by numeric id or by name.
func (s *Store) GetSensor(idOrName string) (*Sensor, error) {
	var row *sql.Row
	if id, err := strconv.ParseInt(idOrName, 10, 64); err == nil {
		row = s.db.QueryRow(`SELECT id, name, last_value, last_updated FROM sensors WHERE id = ?`, id)
	} else {
		row = s.db.QueryRow(`SELECT id, name, last_value, last_updated FROM sensors WHERE name = ?`, idOrName)
	}

	var sn Sensor
	var lastValue sql.NullString
	var lastUpdated sql.NullInt64
	err := row.Scan(&sn.ID, &sn.Name, &lastValue, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sensor %q: %w", idOrName, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	sn.LastValue = lastValue.String
	sn.LastUpdated = lastUpdated.Int64
	return &sn, nil
}

// GetReadings returns up to limit readings for a sensor, newest first.
// start and end bound the timestamp range when > 0.
func (s *Store) GetReadings(sensorName string, limit int, start, end int64) ([]Reading, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT r.timestamp, r.value, r.units
		FROM readings r
		JOIN sensors s ON r.sensor_id = s.id
		WHERE s.name = ?
	`
	args := []any{sensorName}
	if start > 0 {
		query += ` AND r.timestamp >= ?`
		args = append(args, start)
	}
	if end > 0 {
		query += ` AND r.timestamp <= ?`
		args = append(args, end)
	}
	query += ` ORDER BY r.timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var r Reading
		var units sql.NullString
		if err := rows.Scan(&r.Timestamp, &r.Value, &units); err != nil {
			return nil, err
		}
		r.Units = units.String
		readings = append(readings, r)
	}
	return readings, rows.Err()
}
