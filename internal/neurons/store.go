// Package neurons is the directory of valid neuron names backing every form
// and selection list.
package neurons

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxNameLength is the longest accepted neuron name
const MaxNameLength = 10

var (
	ErrInvalidName = errors.New("invalid neuron name")
	ErrNotFound    = errors.New("neuron not found")
)

// Neuron is one entry of the directory
type Neuron struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (n Neuron) String() string {
	return n.Name
}

// Store manages the neuron table
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (and creates if needed) the directory database at path
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if !strings.HasPrefix(path, ":") && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open neuron database: %w", err)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to neuron database: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS neurons (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE CHECK (length(name) <= 10)
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create neurons table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// ValidateName checks the constraints the table enforces
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidName, name, MaxNameLength)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidName, name)
	}
	return nil
}

// GetOrCreate returns the neuron called name, inserting it first if needed.
// created reports whether a new row was written.
func (s *Store) GetOrCreate(ctx context.Context, name string) (n Neuron, created bool, err error) {
	if err := ValidateName(name); err != nil {
		return Neuron{}, false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO neurons (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return Neuron{}, false, fmt.Errorf("failed to insert neuron %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Neuron{}, false, err
	}

	n, err = s.Get(ctx, name)
	return n, affected > 0, err
}

// Get looks a neuron up by name
func (s *Store) Get(ctx context.Context, name string) (Neuron, error) {
	n := Neuron{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM neurons WHERE name = ?`, name).Scan(&n.ID, &n.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Neuron{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Neuron{}, fmt.Errorf("failed to query neuron %s: %w", name, err)
	}
	return n, nil
}

// Exists reports whether name is in the directory
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Missing returns the names that are not in the directory, in input order
func (s *Store) Missing(ctx context.Context, names []string) ([]string, error) {
	var missing []string
	for _, name := range names {
		ok, err := s.Exists(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// List returns all neurons ordered by name
func (s *Store) List(ctx context.Context) ([]Neuron, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM neurons ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list neurons: %w", err)
	}
	defer rows.Close()

	var out []Neuron
	for rows.Next() {
		var n Neuron
		if err := rows.Scan(&n.ID, &n.Name); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Names returns all neuron names ordered by name
func (s *Store) Names(ctx context.Context) ([]string, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(list))
	for i, n := range list {
		names[i] = n.Name
	}
	return names, nil
}

// Count returns the number of neurons
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM neurons`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
