package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// CreateTopic creates a topic or, when it already exists, updates its
// publish flag. It returns the topic id either way.
func (s *Store) CreateTopic(name string, publish bool) (int64, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO topics (name, publish) VALUES (?, ?)`,
		name, publish,
	)
	if err != nil {
		return 0, fmt.Errorf("create topic: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := s.db.Exec(`UPDATE topics SET publish = ? WHERE name = ?`, publish, name); err != nil {
			return 0, fmt.Errorf("update topic: %w", err)
		}
	}

	var id int64
	if err := s.db.QueryRow(`SELECT id FROM topics WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("look up topic: %w", err)
	}
	return id, nil
}

// GetTopics returns every local topic in creation order.
func (s *Store) GetTopics() ([]Topic, error) {
	rows, err := s.db.Query(`SELECT id, name, publish FROM topics ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Publish); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// GetTopic looks a topic up by numeric id or by name.
func (s *Store) GetTopic(idOrName string) (*Topic, error) {
	var row *sql.Row
	if id, err := strconv.ParseInt(idOrName, 10, 64); err == nil {
		row = s.db.QueryRow(`SELECT id, name, publish FROM topics WHERE id = ?`, id)
	} else {
		row = s.db.QueryRow(`SELECT id, name, publish FROM topics WHERE name = ?`, idOrName)
	}

	var t Topic
	err := row.Scan(&t.ID, &t.Name, &t.Publish)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("topic %q: %w", idOrName, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SetTopicPublish flips the publish flag for a topic.
func (s *Store) SetTopicPublish(name string, publish bool) error {
	res, err := s.db.Exec(`UPDATE topics SET publish = ? WHERE name = ?`, publish, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("topic %q: %w", name, ErrNotFound)
	}
	return nil
}

// AddSensorToTopic adds a sensor to a topic's membership set. The
// topic is created on demand; an unknown sensor is an error because
// membership on a sensor that never produced a reading is meaningless.
func (s *Store) AddSensorToTopic(topicName, sensorName string) error {
	topicID, err := s.CreateTopicIfMissing(topicName)
	if err != nil {
		return err
	}

	var sensorID int64
	err = s.db.QueryRow(`SELECT id FROM sensors WHERE name = ?`, sensorName).Scan(&sensorID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sensor %q: %w", sensorName, ErrNotFound)
	}
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO topic_sensors (topic_id, sensor_id) VALUES (?, ?)`,
		topicID, sensorID,
	)
	return err
}

// CreateTopicIfMissing returns the id of an existing topic or creates
// it with publish disabled.
func (s *Store) CreateTopicIfMissing(name string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM topics WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return s.CreateTopic(name, false)
}

// RemoveSensorFromTopic removes a sensor from a topic's membership
// set. Unknown topics or sensors are a no-op.
func (s *Store) RemoveSensorFromTopic(topicName, sensorName string) error {
	_, err := s.db.Exec(`
		DELETE FROM topic_sensors
		WHERE topic_id = (SELECT id FROM topics WHERE name = ?)
		  AND sensor_id = (SELECT id FROM sensors WHERE name = ?)
	`, topicName, sensorName)
	return err
}

// GetTopicSensors returns the sensors belonging to a topic.
func (s *Store) GetTopicSensors(topicName string) ([]Sensor, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.name, s.last_value, s.last_updated
		FROM sensors s
		JOIN topic_sensors ts ON s.id = ts.sensor_id
		JOIN topics t ON ts.topic_id = t.id
		WHERE t.name = ?
	`, topicName)
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

// GetPublishedTopics returns the topics whose publish flag is set.
func (s *Store) GetPublishedTopics() ([]Topic, error) {
	rows, err := s.db.Query(`SELECT id, name, publish FROM topics WHERE publish = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Publish); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
