// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "modernc.org/sqlite"

	"github.com/jllopis/sinp/pkg/errors"
)

// SQLiteStore persists records in SQLite.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLite opens dsn with the modernc driver and prepares the schema.
// The returned store closes the database on Close.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "open audit database", err)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStore wraps an open database and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "audit database is nil", nil)
	}
	if err := ensureSchema(db); err != nil {
		return nil, errors.New(errors.CodeInternal, "create audit schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Record stores one record.
func (s *SQLiteStore) Record(ctx context.Context, rec Record) error {
	alts, err := json.Marshal(rec.Alternatives)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sinp_audit (
			session_id, round, nonce, key_id, intent_hash, phi_c, phi_s, rho,
			reliability, availability, action, reason, capability_id, alternatives_json,
			client_state, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SessionID,
		rec.Round,
		rec.Nonce,
		rec.KeyID,
		rec.IntentHash,
		rec.PhiC,
		rec.PhiS,
		rec.Rho,
		rec.Reliability,
		rec.Availability,
		rec.Action,
		rec.Reason,
		rec.CapabilityID,
		string(alts),
		rec.ClientState,
		normalizeTime(rec.Time),
	)
	if err != nil {
		return errors.New(errors.CodeInternal, "insert audit record", err).WithRecoverable(true)
	}
	return nil
}

// List returns matching records ordered by time.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT session_id, round, nonce, key_id, intent_hash, phi_c, phi_s, rho,
			reliability, availability, action, reason, capability_id, alternatives_json,
			client_state, recorded_at
		FROM sinp_audit
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.SessionID != "" {
		addFilter("session_id = ?", filter.SessionID)
	}
	if filter.Action != "" {
		addFilter("action = ?", filter.Action)
	}
	if filter.Reason != "" {
		addFilter("reason = ?", filter.Reason)
	}
	if !filter.Since.IsZero() {
		addFilter("recorded_at >= ?", filter.Since.UTC())
	}
	query += where + " ORDER BY recorded_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "query audit records", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			altsJSON sql.NullString
			recorded sql.NullTime
		)
		if err := rows.Scan(
			&rec.SessionID,
			&rec.Round,
			&rec.Nonce,
			&rec.KeyID,
			&rec.IntentHash,
			&rec.PhiC,
			&rec.PhiS,
			&rec.Rho,
			&rec.Reliability,
			&rec.Availability,
			&rec.Action,
			&rec.Reason,
			&rec.CapabilityID,
			&altsJSON,
			&rec.ClientState,
			&recorded,
		); err != nil {
			return nil, errors.New(errors.CodeInternal, "scan audit record", err)
		}
		if altsJSON.Valid && altsJSON.String != "" && altsJSON.String != "null" {
			if err := json.Unmarshal([]byte(altsJSON.String), &rec.Alternatives); err != nil {
				return nil, errors.New(errors.CodeInternal, "decode alternatives", err)
			}
		}
		if recorded.Valid {
			rec.Time = recorded.Time.UTC()
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeInternal, "iterate audit records", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sinp_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			nonce TEXT,
			key_id TEXT,
			intent_hash TEXT,
			phi_c REAL,
			phi_s REAL,
			rho REAL,
			reliability REAL,
			availability REAL,
			action TEXT NOT NULL,
			reason TEXT,
			capability_id TEXT,
			alternatives_json TEXT,
			client_state TEXT,
			recorded_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sinp_audit_session ON sinp_audit(session_id);
		CREATE INDEX IF NOT EXISTS idx_sinp_audit_action ON sinp_audit(action);
	`)
	return err
}
