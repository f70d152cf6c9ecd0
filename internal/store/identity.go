package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Config keys for the identity and broker endpoint rows.
const (
	keyClientID       = "client_id"
	keyClientMetadata = "client_metadata"
	keyBrokerHost     = "broker_host"
	keyBrokerPort     = "broker_port"
)

func (s *Store) getConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *Store) setConfig(key, value string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`,
		key, value,
	)
	return err
}

// GetClientID returns the configured client identity, or "" when the
// operator has not set one.
func (s *Store) GetClientID() (string, error) {
	return s.getConfig(keyClientID)
}

// SetClientID stores the client identity.
func (s *Store) SetClientID(id string) error {
	return s.setConfig(keyClientID, id)
}

// GetOrCreateClientID returns the stored client identity, generating
// and persisting a UUIDv7 the first time. The generated id is stable
// across restarts so broker-side topic ownership survives.
func (s *Store) GetOrCreateClientID() (string, error) {
	id, err := s.GetClientID()
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	id = u.String()
	if err := s.SetClientID(id); err != nil {
		return "", fmt.Errorf("persist client id: %w", err)
	}
	return id, nil
}

// GetClientMetadata returns the operator-supplied metadata map
// (name, email, ...). Missing metadata yields an empty map.
func (s *Store) GetClientMetadata() (map[string]string, error) {
	raw, err := s.getConfig(keyClientMetadata)
	if err != nil {
		return nil, err
	}
	meta := make(map[string]string)
	if raw == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode client metadata: %w", err)
	}
	return meta, nil
}

// SetClientMetadata stores the metadata map as JSON.
func (s *Store) SetClientMetadata(meta map[string]string) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode client metadata: %w", err)
	}
	return s.setConfig(keyClientMetadata, string(raw))
}

// GetBrokerHost returns the stored broker host, or "" if unset.
func (s *Store) GetBrokerHost() (string, error) {
	return s.getConfig(keyBrokerHost)
}

// SetBrokerHost stores the broker host.
func (s *Store) SetBrokerHost(host string) error {
	return s.setConfig(keyBrokerHost, host)
}

// GetBrokerPort returns the stored broker port, or 0 if unset.
func (s *Store) GetBrokerPort() (int, error) {
	raw, err := s.getConfig(keyBrokerPort)
	if err != nil || raw == "" {
		return 0, err
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("broker port %q: %w", raw, err)
	}
	return port, nil
}

// SetBrokerPort stores the broker port.
func (s *Store) SetBrokerPort(port int) error {
	return s.setConfig(keyBrokerPort, strconv.Itoa(port))
}
