// Package journal records the outcome of every processed document in a
// local SQLite database.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/campdesk/labelbridge/internal/classify"
)

// ErrNotFound is returned by Get for unknown document ids.
var ErrNotFound = errors.New("document not found")

// Status is the final state of a document.
type Status string

const (
	StatusProcessed   Status = "processed"
	StatusNotReady    Status = "not_ready"
	StatusBlacklisted Status = "blacklisted"
	StatusFailed      Status = "failed"
)

// Document is one journal entry.
type Document struct {
	ID             string           `json:"id"`
	Source         string           `json:"source"`
	Status         Status           `json:"status"`
	VariableSymbol string           `json:"variable_symbol"`
	FromDate       string           `json:"from_date"`
	ToDate         string           `json:"to_date"`
	Year           string           `json:"year"`
	Code           string           `json:"code"`
	PrintCount     int              `json:"print_count"`
	Printed        int              `json:"printed"`
	Flag           bool             `json:"flag"`
	Counts         []classify.Count `json:"counts,omitempty"`
	LabelPath      string           `json:"label_path,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

// Open creates or opens the journal database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers; SQLite allows one at a time.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			variable_symbol TEXT NOT NULL DEFAULT '',
			from_date TEXT NOT NULL DEFAULT '',
			to_date TEXT NOT NULL DEFAULT '',
			year TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT '',
			print_count INTEGER NOT NULL DEFAULT 0,
			printed INTEGER NOT NULL DEFAULT 0,
			flag INTEGER NOT NULL DEFAULT 0,
			counts TEXT NOT NULL DEFAULT '[]',
			label_path TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize journal: %w", err)
		}
	}
	return nil
}

// Record stores d, assigning an ID and creation time when they are unset.
func (s *Store) Record(ctx context.Context, d *Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	counts, err := json.Marshal(d.Counts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, source, status, variable_symbol, from_date, to_date, year,
			code, print_count, printed, flag, counts, label_path, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Source, string(d.Status), d.VariableSymbol, d.FromDate, d.ToDate, d.Year,
		d.Code, d.PrintCount, d.Printed, d.Flag, string(counts), d.LabelPath, d.Error,
		d.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record document: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, source, status, variable_symbol, from_date, to_date, year,
	code, print_count, printed, flag, counts, label_path, error, created_at FROM documents`

func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, err
}

// List returns up to limit documents, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (Document, error) {
	var (
		d         Document
		status    string
		counts    string
		createdAt string
	)
	err := sc.Scan(&d.ID, &d.Source, &status, &d.VariableSymbol, &d.FromDate, &d.ToDate, &d.Year,
		&d.Code, &d.PrintCount, &d.Printed, &d.Flag, &counts, &d.LabelPath, &d.Error, &createdAt)
	if err != nil {
		return Document{}, err
	}
	d.Status = Status(status)
	if counts != "" && counts != "null" {
		if err := json.Unmarshal([]byte(counts), &d.Counts); err != nil {
			return Document{}, fmt.Errorf("decode counts for %s: %w", d.ID, err)
		}
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Document{}, fmt.Errorf("decode created_at for %s: %w", d.ID, err)
	}
	return d, nil
}
