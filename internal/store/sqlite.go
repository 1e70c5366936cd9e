package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// sqliteSchema holds every collection in one documents table. Point-in-time
// views are materialized into pit_documents under a uuid handle, so
// pagination stays stable under concurrent writes without holding a read
// transaction open across calls.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	body TEXT NOT NULL,
	PRIMARY KEY (collection, doc_id)
);

CREATE TABLE IF NOT EXISTS pits (
	pit_id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pit_documents (
	pit_id TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	body TEXT NOT NULL,
	PRIMARY KEY (pit_id, doc_id)
);
`

// SQLite is the embedded store backend for single-binary installs.
type SQLite struct {
	db *sqlx.DB
}

// NewSQLite opens (and if needed initializes) the embedded store.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Set pragmas for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateIfAbsent implements Store.
func (s *SQLite) CreateIfAbsent(ctx context.Context, collection, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, doc_id, body) VALUES (?, ?, ?)
		 ON CONFLICT (collection, doc_id) DO NOTHING`,
		collection, id, string(body))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrExists
	}
	return nil
}

// BulkCreate implements Store.
func (s *SQLite) BulkCreate(ctx context.Context, collection string, docs []BulkDoc) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	skipped := 0
	for _, d := range docs {
		body, err := json.Marshal(d.Doc)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, doc_id, body) VALUES (?, ?, ?)
			 ON CONFLICT (collection, doc_id) DO NOTHING`,
			collection, d.ID, string(body))
		if err != nil {
			return 0, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if affected == 0 {
			skipped++
		}
	}
	return skipped, tx.Commit()
}

// BulkUpdate implements Store. Updates are shallow JSON merges via
// json_patch, mirroring the partial-document update of the remote backend.
func (s *SQLite) BulkUpdate(ctx context.Context, collection string, docs []BulkDoc) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range docs {
		patch, err := json.Marshal(d.Doc)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET body = json_patch(body, ?) WHERE collection = ? AND doc_id = ?`,
			string(patch), collection, d.ID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("update %s/%s: %w", collection, d.ID, ErrNotFound)
		}
	}
	return tx.Commit()
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND doc_id = ?`, collection, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID implements Store.
func (s *SQLite) GetByID(ctx context.Context, collection, id string, out any) error {
	var body string
	err := s.db.GetContext(ctx, &body,
		`SELECT body FROM documents WHERE collection = ? AND doc_id = ?`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), out)
}

// OpenPIT implements Store.
func (s *SQLite) OpenPIT(ctx context.Context, collection string, keepAlive time.Duration) (string, error) {
	pit := uuid.NewString()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pits (pit_id, collection, expires_at) VALUES (?, ?, ?)`,
		pit, collection, time.Now().Add(keepAlive)); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pit_documents (pit_id, doc_id, body)
		 SELECT ?, doc_id, body FROM documents WHERE collection = ?`,
		pit, collection); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return pit, nil
}

// ClosePIT implements Store.
func (s *SQLite) ClosePIT(ctx context.Context, pit string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM pits WHERE pit_id = ?`, pit)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("point in time view %s: %w", pit, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pit_documents WHERE pit_id = ?`, pit); err != nil {
		return err
	}
	return tx.Commit()
}

// PageAfter implements Store.
func (s *SQLite) PageAfter(ctx context.Context, pit string, q PageQuery) (Page, error) {
	var exists int
	if err := s.db.GetContext(ctx, &exists,
		`SELECT COUNT(*) FROM pits WHERE pit_id = ?`, pit); err != nil {
		return Page{}, err
	}
	if exists == 0 {
		return Page{}, fmt.Errorf("point in time view %s: %w", pit, ErrNotFound)
	}

	sortExpr := fmt.Sprintf("json_extract(body, '$.%s')", q.Sort.Field)
	direction := "ASC"
	cmp := ">"
	if q.Sort.Desc {
		direction = "DESC"
		cmp = "<"
	}

	query := `SELECT doc_id, body, ` + sortExpr + ` AS sort_val FROM pit_documents WHERE pit_id = ?`
	args := []any{pit}

	if q.Filter != nil {
		query += fmt.Sprintf(" AND json_extract(body, '$.%s') = ?", q.Filter.Field)
		args = append(args, q.Filter.Value)
	}
	if len(q.SearchAfter) == 2 {
		// resume strictly after (sort value, doc id)
		query += fmt.Sprintf(" AND (%s %s ? OR (%s = ? AND doc_id > ?))", sortExpr, cmp, sortExpr)
		args = append(args, q.SearchAfter[0], q.SearchAfter[0], q.SearchAfter[1])
	}
	query += fmt.Sprintf(" ORDER BY %s %s, doc_id ASC", sortExpr, direction)
	if q.Size > 0 {
		query += " LIMIT ?"
		args = append(args, q.Size)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	var page Page
	for rows.Next() {
		var docID, body string
		var sortVal any
		if err := rows.Scan(&docID, &body, &sortVal); err != nil {
			return Page{}, err
		}
		page.Hits = append(page.Hits, Document{
			ID:     docID,
			Source: json.RawMessage(body),
			Sort:   []any{sortVal, docID},
		})
	}
	return page, rows.Err()
}
