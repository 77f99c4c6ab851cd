// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package journal persists transition history to SQLite. Each power
// transition is journalled from spawn through its phase timeline and
// sealed before the filesystems quiesce, so the next boot can tell a
// completed transition from one that died midway.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/powerd/pkg/errors"
)

// Transition outcomes as recorded in the journal.
const (
	// OutcomePending means the transition is still running, or died
	// before reaching the point of no return.
	OutcomePending = "pending"

	// OutcomeCommitted means the transition sealed the journal and
	// proceeded to quiesce the filesystems.
	OutcomeCommitted = "committed"

	// OutcomeInterrupted is stamped at the next startup on entries
	// found still pending.
	OutcomeInterrupted = "interrupted"
)

// Entry is one journalled transition.
type Entry struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	Requester string     `json:"requester,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Outcome   string     `json:"outcome"`
	StartedAt time.Time  `json:"started_at"`
	SealedAt  *time.Time `json:"sealed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	// Phases is the recorded phase timeline, in entry order. Populated
	// by Get; List leaves it empty.
	Phases []PhaseRecord `json:"phases,omitempty"`
}

// PhaseRecord is one step of a transition's phase timeline.
type PhaseRecord struct {
	Phase     string    `json:"phase"`
	EnteredAt time.Time `json:"entered_at"`
}

// Filter contains filtering options for listing journal entries.
type Filter struct {
	Command string
	Outcome string
	Limit   int
}

// Config contains journal database configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// Journal is the SQLite-backed transition journal.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database.
func Open(cfg Config) (*Journal, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	j := &Journal{db: db}

	if err := j.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return j, nil
}

// configurePragmas sets SQLite configuration options.
func (j *Journal) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := j.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate runs database migrations.
func (j *Journal) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			requester TEXT,
			reason TEXT,
			outcome TEXT NOT NULL,
			started_at TEXT NOT NULL,
			sealed_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_outcome ON transitions(outcome)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_created_at ON transitions(created_at)`,
		`CREATE TABLE IF NOT EXISTS transition_phases (
			transition_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			phase TEXT NOT NULL,
			entered_at TEXT NOT NULL,
			PRIMARY KEY (transition_id, seq),
			FOREIGN KEY (transition_id) REFERENCES transitions(id) ON DELETE CASCADE
		)`,
	}

	for _, migration := range migrations {
		if _, err := j.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Begin journals the start of a transition with a pending outcome.
func (j *Journal) Begin(ctx context.Context, id, command, requester, reason string, startedAt time.Time) error {
	query := `
		INSERT INTO transitions (id, command, requester, reason, outcome, started_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err := j.db.ExecContext(ctx, query,
		id, command, nullString(requester), nullString(reason), OutcomePending,
		startedAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to journal transition: %w", err)
	}
	return nil
}

// RecordPhase appends a phase to the transition's timeline.
func (j *Journal) RecordPhase(ctx context.Context, id, phase string, enteredAt time.Time) error {
	query := `
		INSERT INTO transition_phases (transition_id, seq, phase, entered_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM transition_phases WHERE transition_id = ?), ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query, id, id, phase, enteredAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record phase: %w", err)
	}
	return nil
}

// Seal stamps the transition's final outcome. For a live transition this
// is the last journal write before the filesystems quiesce.
func (j *Journal) Seal(ctx context.Context, id, outcome string, sealedAt time.Time) error {
	query := `UPDATE transitions SET outcome = ?, sealed_at = ? WHERE id = ?`
	result, err := j.db.ExecContext(ctx, query, outcome, sealedAt.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to seal transition: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("transition not found: %s", id)
	}
	return nil
}

// Get retrieves a transition with its phase timeline.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	query := `
		SELECT id, command, requester, reason, outcome, started_at, sealed_at, created_at
		FROM transitions WHERE id = ?
	`

	var entry Entry
	var requester, reason, sealedAt sql.NullString
	var startedAt, createdAt string

	err := j.db.QueryRowContext(ctx, query, id).Scan(
		&entry.ID, &entry.Command, &requester, &reason, &entry.Outcome,
		&startedAt, &sealedAt, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "transition", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transition: %w", err)
	}

	if requester.Valid {
		entry.Requester = requester.String
	}
	if reason.Valid {
		entry.Reason = reason.String
	}
	if sealedAt.Valid {
		t, _ := time.Parse(time.RFC3339, sealedAt.String)
		entry.SealedAt = &t
	}
	entry.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	phases, err := j.phases(ctx, id)
	if err != nil {
		return nil, err
	}
	entry.Phases = phases

	return &entry, nil
}

func (j *Journal) phases(ctx context.Context, id string) ([]PhaseRecord, error) {
	query := `
		SELECT phase, entered_at FROM transition_phases
		WHERE transition_id = ? ORDER BY seq ASC
	`
	rows, err := j.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list phases: %w", err)
	}
	defer rows.Close()

	var phases []PhaseRecord
	for rows.Next() {
		var p PhaseRecord
		var enteredAt string
		if err := rows.Scan(&p.Phase, &enteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		p.EnteredAt, _ = time.Parse(time.RFC3339, enteredAt)
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// List lists journal entries, newest first.
func (j *Journal) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := `
		SELECT id, command, requester, reason, outcome, started_at, sealed_at, created_at
		FROM transitions WHERE 1=1
	`
	args := []any{}

	if filter.Command != "" {
		query += " AND command = ?"
		args = append(args, filter.Command)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var requester, reason, sealedAt sql.NullString
		var startedAt, createdAt string

		err := rows.Scan(
			&entry.ID, &entry.Command, &requester, &reason, &entry.Outcome,
			&startedAt, &sealedAt, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}

		if requester.Valid {
			entry.Requester = requester.String
		}
		if reason.Valid {
			entry.Reason = reason.String
		}
		if sealedAt.Valid {
			t, _ := time.Parse(time.RFC3339, sealedAt.String)
			entry.SealedAt = &t
		}
		entry.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Unsealed returns transitions still marked pending. At startup these
// are the transitions that died before committing.
func (j *Journal) Unsealed(ctx context.Context) ([]*Entry, error) {
	return j.List(ctx, Filter{Outcome: OutcomePending})
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// nullString returns nil if string is empty, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
