// Package sqlitestore is an mqttc.SessionStore backed by SQLite.
//
// Several clients can share one database file; rows are keyed by client ID.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/augbari/mqttc"
)

const (
	dirPermissions = 0750

	// opTimeout bounds each store call; SessionStore methods take no context.
	opTimeout = 5 * time.Second

	busyTimeoutMillis = 5000
)

const schema = `
CREATE TABLE IF NOT EXISTS inflight (
	client_id TEXT    NOT NULL,
	packet_id INTEGER NOT NULL,
	topic     TEXT    NOT NULL,
	payload   BLOB,
	qos       INTEGER NOT NULL,
	retain    INTEGER NOT NULL,
	released  INTEGER NOT NULL,
	PRIMARY KEY (client_id, packet_id)
);
CREATE TABLE IF NOT EXISTS subscriptions (
	client_id TEXT    NOT NULL,
	filter    TEXT    NOT NULL,
	qos       INTEGER NOT NULL,
	PRIMARY KEY (client_id, filter)
);
CREATE TABLE IF NOT EXISTS received_qos2 (
	client_id TEXT    NOT NULL,
	packet_id INTEGER NOT NULL,
	PRIMARY KEY (client_id, packet_id)
);
`

// Store implements mqttc.SessionStore on a SQLite database.
type Store struct {
	db       *sql.DB
	clientID string
}

var _ mqttc.SessionStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and returns the store
// for clientID.
//
// Example:
//
//	store, err := sqlitestore.Open("/var/lib/mqttc/session.db", "sensor-1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func Open(path, clientID string) (*Store, error) {
	if clientID == "" {
		return nil, errors.New("clientID cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, busyTimeoutMillis)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, clientID: clientID}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// ClientID returns the client ID this store is bound to.
func (s *Store) ClientID() string {
	return s.clientID
}

func (s *Store) exec(query string, args ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, query, append([]any{s.clientID}, args...)...)
	return err
}

func (s *Store) query(query string, scan func(*sql.Rows) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, s.clientID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SavePendingPublish implements mqttc.SessionStore.
func (s *Store) SavePendingPublish(packetID uint16, pub *mqttc.PersistedPublish) error {
	err := s.exec(`INSERT OR REPLACE INTO inflight
		(client_id, packet_id, topic, payload, qos, retain, released)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		packetID, pub.Topic, pub.Payload, pub.QoS, pub.Retain, pub.Released)
	if err != nil {
		return fmt.Errorf("saving pending publish %d: %w", packetID, err)
	}
	return nil
}

// DeletePendingPublish implements mqttc.SessionStore.
func (s *Store) DeletePendingPublish(packetID uint16) error {
	if err := s.exec(`DELETE FROM inflight WHERE client_id = ? AND packet_id = ?`, packetID); err != nil {
		return fmt.Errorf("deleting pending publish %d: %w", packetID, err)
	}
	return nil
}

// LoadPendingPublishes implements mqttc.SessionStore.
func (s *Store) LoadPendingPublishes() (map[uint16]*mqttc.PersistedPublish, error) {
	result := make(map[uint16]*mqttc.PersistedPublish)
	err := s.query(`SELECT packet_id, topic, payload, qos, retain, released
		FROM inflight WHERE client_id = ?`, func(rows *sql.Rows) error {
		var id uint16
		var pub mqttc.PersistedPublish
		if err := rows.Scan(&id, &pub.Topic, &pub.Payload, &pub.QoS, &pub.Retain, &pub.Released); err != nil {
			return err
		}
		result[id] = &pub
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading pending publishes: %w", err)
	}
	return result, nil
}

// SaveSubscription implements mqttc.SessionStore.
func (s *Store) SaveSubscription(filter string, sub *mqttc.SubscriptionInfo) error {
	err := s.exec(`INSERT OR REPLACE INTO subscriptions (client_id, filter, qos) VALUES (?, ?, ?)`,
		filter, sub.QoS)
	if err != nil {
		return fmt.Errorf("saving subscription %q: %w", filter, err)
	}
	return nil
}

// DeleteSubscription implements mqttc.SessionStore.
func (s *Store) DeleteSubscription(filter string) error {
	if err := s.exec(`DELETE FROM subscriptions WHERE client_id = ? AND filter = ?`, filter); err != nil {
		return fmt.Errorf("deleting subscription %q: %w", filter, err)
	}
	return nil
}

// LoadSubscriptions implements mqttc.SessionStore.
func (s *Store) LoadSubscriptions() (map[string]*mqttc.SubscriptionInfo, error) {
	result := make(map[string]*mqttc.SubscriptionInfo)
	err := s.query(`SELECT filter, qos FROM subscriptions WHERE client_id = ?`, func(rows *sql.Rows) error {
		var filter string
		var info mqttc.SubscriptionInfo
		if err := rows.Scan(&filter, &info.QoS); err != nil {
			return err
		}
		result[filter] = &info
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}
	return result, nil
}

// SaveReceivedQoS2 implements mqttc.SessionStore.
func (s *Store) SaveReceivedQoS2(packetID uint16) error {
	if err := s.exec(`INSERT OR IGNORE INTO received_qos2 (client_id, packet_id) VALUES (?, ?)`, packetID); err != nil {
		return fmt.Errorf("saving QoS 2 ID %d: %w", packetID, err)
	}
	return nil
}

// DeleteReceivedQoS2 implements mqttc.SessionStore.
func (s *Store) DeleteReceivedQoS2(packetID uint16) error {
	if err := s.exec(`DELETE FROM received_qos2 WHERE client_id = ? AND packet_id = ?`, packetID); err != nil {
		return fmt.Errorf("deleting QoS 2 ID %d: %w", packetID, err)
	}
	return nil
}

// LoadReceivedQoS2 implements mqttc.SessionStore.
func (s *Store) LoadReceivedQoS2() (map[uint16]struct{}, error) {
	result := make(map[uint16]struct{})
	err := s.query(`SELECT packet_id FROM received_qos2 WHERE client_id = ?`, func(rows *sql.Rows) error {
		var id uint16
		if err := rows.Scan(&id); err != nil {
			return err
		}
		result[id] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading QoS 2 IDs: %w", err)
	}
	return result, nil
}

// ClearReceivedQoS2 implements mqttc.SessionStore.
func (s *Store) ClearReceivedQoS2() error {
	if err := s.exec(`DELETE FROM received_qos2 WHERE client_id = ?`); err != nil {
		return fmt.Errorf("clearing QoS 2 IDs: %w", err)
	}
	return nil
}

// Clear implements mqttc.SessionStore.
func (s *Store) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	for _, table := range []string{"inflight", "subscriptions", "received_qos2"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE client_id = ?", s.clientID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
