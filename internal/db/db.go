// Package db provides the SQLite audit log of access verifications.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a verification record does not exist.
var ErrNotFound = errors.New("verification not found")

// DB represents the database connection.
type DB struct {
	conn *sql.DB
}

// Verification represents one access verification record.
type Verification struct {
	ID              string
	CreatedAt       time.Time
	Endpoint        string
	Contract        string
	Wallet          string
	MACAddress      string
	State           string // pending, granted, denied, failed
	Decision        string // granted, denied, or empty
	ErrorKind       string
	Error           string
	MutationError   string
	OracleLatencyMs int64
}

// Open opens the SQLite database and creates tables if needed.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := createTables(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func createTables(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS verifications (
			id TEXT PRIMARY KEY,
			created_at DATETIME,
			endpoint TEXT,
			contract TEXT,
			wallet TEXT,
			mac_address TEXT DEFAULT '',
			state TEXT,
			decision TEXT DEFAULT '',
			error_kind TEXT DEFAULT '',
			error TEXT DEFAULT '',
			mutation_error TEXT DEFAULT '',
			oracle_latency_ms INTEGER DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_verifications_created ON verifications(created_at);
		CREATE INDEX IF NOT EXISTS idx_verifications_wallet ON verifications(wallet);
		CREATE INDEX IF NOT EXISTS idx_verifications_mac ON verifications(mac_address);
	`)
	return err
}

// RecordVerification inserts a verification record.
func (db *DB) RecordVerification(v *Verification) error {
	_, err := db.conn.Exec(`
		INSERT INTO verifications (id, created_at, endpoint, contract, wallet, mac_address, state, decision, error_kind, error, mutation_error, oracle_latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.CreatedAt, v.Endpoint, v.Contract, v.Wallet, v.MACAddress, v.State, v.Decision, v.ErrorKind, v.Error, v.MutationError, v.OracleLatencyMs)
	return err
}

// GetVerification retrieves a verification by ID.
func (db *DB) GetVerification(id string) (*Verification, error) {
	row := db.conn.QueryRow(`
		SELECT id, created_at, endpoint, contract, wallet, mac_address, state, decision, error_kind, error, mutation_error, oracle_latency_ms
		FROM verifications WHERE id = ?
	`, id)

	v, err := scanVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// ListVerifications returns the most recent verifications, newest first.
func (db *DB) ListVerifications(limit int) ([]*Verification, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(`
		SELECT id, created_at, endpoint, contract, wallet, mac_address, state, decision, error_kind, error, mutation_error, oracle_latency_ms
		FROM verifications ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var verifications []*Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		verifications = append(verifications, v)
	}
	return verifications, rows.Err()
}

// ListByMAC returns the verifications made for one device, newest first.
func (db *DB) ListByMAC(mac string, limit int) ([]*Verification, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(`
		SELECT id, created_at, endpoint, contract, wallet, mac_address, state, decision, error_kind, error, mutation_error, oracle_latency_ms
		FROM verifications WHERE mac_address = ? COLLATE NOCASE ORDER BY created_at DESC LIMIT ?
	`, mac, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var verifications []*Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		verifications = append(verifications, v)
	}
	return verifications, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVerification(row scanner) (*Verification, error) {
	v := &Verification{}
	var decision, errorKind, errMsg, mutationErr, mac sql.NullString
	err := row.Scan(&v.ID, &v.CreatedAt, &v.Endpoint, &v.Contract, &v.Wallet, &mac, &v.State, &decision, &errorKind, &errMsg, &mutationErr, &v.OracleLatencyMs)
	if err != nil {
		return nil, err
	}
	if mac.Valid {
		v.MACAddress = mac.String
	}
	if decision.Valid {
		v.Decision = decision.String
	}
	if errorKind.Valid {
		v.ErrorKind = errorKind.String
	}
	if errMsg.Valid {
		v.Error = errMsg.String
	}
	if mutationErr.Valid {
		v.MutationError = mutationErr.String
	}
	return v, nil
}
