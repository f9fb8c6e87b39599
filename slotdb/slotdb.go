// Package slotdb exports the derivative slots of a registry to SQLite so
// that backend output can be cross-checked against the unknowns it names.
package slotdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/vadiff/autodiff"
	"github.com/chazu/vadiff/cfg"
)

const schema = `
CREATE TABLE IF NOT EXISTS unknowns (
	id       INTEGER PRIMARY KEY,
	ord      INTEGER NOT NULL,
	previous INTEGER,
	base     INTEGER NOT NULL,
	name     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS coefficients (
	unknown INTEGER NOT NULL,
	param   INTEGER NOT NULL,
	bits    INTEGER NOT NULL,
	value   REAL,
	PRIMARY KEY (unknown, param)
);
`

// DB is an open slot database.
type DB struct {
	db   *sql.DB
	path string
	log  commonlog.Logger
}

// Slot is one row of the unknowns table.
type Slot struct {
	ID       autodiff.Unknown
	Order    int
	Previous *autodiff.Unknown
	Base     autodiff.FirstOrderUnknown
	Name     string
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &DB{db: db, path: path, log: commonlog.GetLogger("vadiff.slotdb")}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Export replaces the contents of the database with every unknown of r and
// the coefficients of its first-order unknowns, in one transaction.
func (d *DB) Export(ctx context.Context, r *autodiff.Unknowns) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning export: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"unknowns", "coefficients"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	insertUnknown, err := tx.PrepareContext(ctx,
		"INSERT INTO unknowns (id, ord, previous, base, name) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing unknown insert: %w", err)
	}
	defer insertUnknown.Close()

	insertCoeff, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO coefficients (unknown, param, bits, value) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing coefficient insert: %w", err)
	}
	defer insertCoeff.Close()

	for i := 0; i < r.Len(); i++ {
		u := autodiff.Unknown(i)
		var previous sql.NullInt64
		if prev, ok := r.PreviousOrder(u); ok {
			previous = sql.NullInt64{Int64: int64(prev), Valid: true}
		}
		if _, err := insertUnknown.ExecContext(ctx, i, r.Order(u), previous, int64(r.ToFirstOrder(u)), r.Describe(u)); err != nil {
			return fmt.Errorf("inserting %s: %w", u, err)
		}
	}

	for i := 0; i < r.NumFirstOrder(); i++ {
		for _, c := range r.Coefficients(autodiff.FirstOrderUnknown(i)) {
			// bits are stored as the signed reinterpretation of the pattern;
			// a repeated param keeps its first value, as ParamDerivative does
			if _, err := insertCoeff.ExecContext(ctx, i, int64(c.Param), int64(c.Bits), c.Value()); err != nil {
				return fmt.Errorf("inserting coefficient %s of unknown %d: %w", c.Param, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing export: %w", err)
	}

	d.log.Infof("exported %d unknowns to %s", r.Len(), d.path)
	return nil
}

// Slots reads back the unknowns table in id order.
func (d *DB) Slots(ctx context.Context) ([]Slot, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id, ord, previous, base, name FROM unknowns ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying unknowns: %w", err)
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		var (
			s        Slot
			id, base int64
			previous sql.NullInt64
		)
		if err := rows.Scan(&id, &s.Order, &previous, &base, &s.Name); err != nil {
			return nil, fmt.Errorf("scanning unknown: %w", err)
		}
		s.ID = autodiff.Unknown(id)
		s.Base = autodiff.FirstOrderUnknown(base)
		if previous.Valid {
			p := autodiff.Unknown(previous.Int64)
			s.Previous = &p
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// Coefficient reads back the stored bits of d param / d f.
func (d *DB) Coefficient(ctx context.Context, f autodiff.FirstOrderUnknown, param cfg.Param) (uint64, bool, error) {
	var bits int64
	err := d.db.QueryRowContext(ctx,
		"SELECT bits FROM coefficients WHERE unknown = ? AND param = ?", int64(f), int64(param)).Scan(&bits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying coefficient: %w", err)
	}
	return uint64(bits), true, nil
}
