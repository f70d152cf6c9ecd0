package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddSubscription records interest in (topic, sourceClient).
// Subscribing twice, or re-subscribing after removal, reactivates the
// same row; the (topic, source) pair has at most one active entry.
func (s *Store) AddSubscription(topic, sourceClient string) error {
	_, err := s.db.Exec(`
		INSERT INTO subscriptions (topic, source_client_id, active)
		VALUES (?, ?, 1)
		ON CONFLICT(topic, source_client_id) DO UPDATE SET active = 1
	`, topic, sourceClient)
	return err
}

// RemoveSubscription deactivates a subscription. The row and its data
// survive for history.
func (s *Store) RemoveSubscription(topic, sourceClient string) error {
	_, err := s.db.Exec(
		`UPDATE subscriptions SET active = 0 WHERE topic = ? AND source_client_id = ?`,
		topic, sourceClient,
	)
	return err
}

// GetSubscriptions returns the active subscriptions.
func (s *Store) GetSubscriptions() ([]Subscription, error) {
	rows, err := s.db.Query(
		`SELECT id, topic, source_client_id FROM subscriptions WHERE active = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.Topic, &sub.SourceClient); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// AddSubscriptionData appends an inbound payload to an active
// subscription. Payloads for unknown or inactive subscriptions are
// rejected with ErrNotFound. A timestamp <= 0 means "now".
func (s *Store) AddSubscriptionData(topic, sourceClient string, timestamp int64, data string) error {
	if timestamp <= 0 {
		timestamp = time.Now().Unix()
	}

	var subID int64
	err := s.db.QueryRow(
		`SELECT id FROM subscriptions WHERE topic = ? AND source_client_id = ? AND active = 1`,
		topic, sourceClient,
	).Scan(&subID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("subscription %s/%s: %w", sourceClient, topic, ErrNotFound)
	}
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO subscription_data (subscription_id, timestamp, data) VALUES (?, ?, ?)`,
		subID, timestamp, data,
	)
	return err
}

// GetSubscriptionData returns up to limit stored payloads for a
// subscription, newest first.
func (s *Store) GetSubscriptionData(topic, sourceClient string, limit int) ([]SubscriptionDatum, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT sd.timestamp, sd.data
		FROM subscription_data sd
		JOIN subscriptions sub ON sd.subscription_id = sub.id
		WHERE sub.topic = ? AND sub.source_client_id = ?
		ORDER BY sd.timestamp DESC
		LIMIT ?
	`, topic, sourceClient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var data []SubscriptionDatum
	for rows.Next() {
		var d SubscriptionDatum
		if err := rows.Scan(&d.Timestamp, &d.Data); err != nil {
			return nil, err
		}
		data = append(data, d)
	}
	return data, rows.Err()
}
