// Package repository is the SQLite-backed store for messages,
// attachments, forward records, and rules. Messages are keyed on their
// RFC 5322 Message-Id, which makes ingestion idempotent. Schema creation
// is an operator task: Open asserts the required tables exist and
// refuses to start otherwise.
package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/portcall/mailgate/internal/errs"
)

// Repository is the mailgate persistence layer.
type Repository struct {
	db *sql.DB
}

// Open opens the SQLite database at path in WAL mode and asserts the
// schema is already bootstrapped.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path))
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "repository: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Storage, err, "repository: ping")
	}
	r := &Repository{db: db}
	if err := r.assertSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// assertSchema queries sqlite_master for each required table and fails
// startup if any are missing, rather than creating them. schemaDDL
// documents the DDL an operator must have already applied.
func (r *Repository) assertSchema() error {
	for _, table := range requiredTables {
		var name string
		err := r.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err == sql.ErrNoRows {
			return errs.New(errs.Configuration, fmt.Sprintf("repository: required table %q is missing; run the bootstrap schema before starting mailgate", table))
		}
		if err != nil {
			return errs.Wrap(errs.Storage, err, "repository: schema check")
		}
	}
	return nil
}
