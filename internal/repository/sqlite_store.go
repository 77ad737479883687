package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docvault-server/internal/domain"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - documents + append-only history
const currentSchemaVersion = 1

// SQLiteStore keeps documents and their ledger in one SQLite database so a
// commit can update the document and append the snapshot in one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore creates or opens the database at path and applies the
// schema. It is safe to call on an existing database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const documentColumns = `doc_type, id, owner_id, doc_version, payload, deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		d                    domain.Document
		payload              string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&d.Type, &d.ID, &d.OwnerID, &d.DocVersion, &payload, &d.Deleted, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &d.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s/%s: %w", d.Type, d.ID, err)
	}
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	d.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &d, nil
}

func encodePayload(p map[string]interface{}) (string, error) {
	if p == nil {
		p = map[string]interface{}{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(data), nil
}

func (s *SQLiteStore) Get(ctx context.Context, docType, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE doc_type = ? AND id = ?`, docType, id)

	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to find %s/%s: %w", docType, id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, s.classify(ctx, "get document", err)
	}
	return d, nil
}

func (s *SQLiteStore) List(ctx context.Context, docType, ownerID string) ([]*domain.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE doc_type = ? AND owner_id = ? AND deleted = 0
		 ORDER BY created_at, id`, docType, ownerID)
	if err != nil {
		return nil, s.classify(ctx, "list documents", err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, s.classify(ctx, "list documents", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(ctx, "list documents", err)
	}
	return docs, nil
}

// Commit applies c inside one transaction. The document write is conditional
// on doc_version, and runs before the history insert so a lost race surfaces
// as a version mismatch rather than as a duplicate snapshot.
func (s *SQLiteStore) Commit(ctx context.Context, c *domain.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}
	d := c.Document

	payload, err := encodePayload(d.Payload)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(ctx, "begin commit", err)
	}
	defer tx.Rollback() // No-op if committed

	var res sql.Result
	if c.Operation == domain.OperationCreate {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO documents (`+documentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doc_type, id) DO NOTHING`,
			d.Type, d.ID, d.OwnerID, d.DocVersion, payload, d.Deleted,
			d.CreatedAt.UnixNano(), d.UpdatedAt.UnixNano(),
		)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE documents
			SET owner_id = ?, doc_version = ?, payload = ?, deleted = ?, updated_at = ?
			WHERE doc_type = ? AND id = ? AND doc_version = ?`,
			d.OwnerID, d.DocVersion, payload, d.Deleted, d.UpdatedAt.UnixNano(),
			d.Type, d.ID, c.ExpectedVersion,
		)
	}
	if err != nil {
		return s.classify(ctx, "write document", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return s.classify(ctx, "write document", err)
	}
	if affected == 0 {
		return s.rejectCommit(ctx, tx, c)
	}

	if c.Snapshot != nil {
		if err := appendSnapshotTx(ctx, tx, c.Snapshot); err != nil {
			if isConstraintViolation(err) {
				return duplicateSnapshot(c.Snapshot)
			}
			return s.classify(ctx, "append history", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.classify(ctx, "commit", err)
	}
	return nil
}

// rejectCommit explains why a conditional write matched no row.
func (s *SQLiteStore) rejectCommit(ctx context.Context, tx *sql.Tx, c *domain.Commit) error {
	d := c.Document
	var current int64
	err := tx.QueryRowContext(ctx,
		`SELECT doc_version FROM documents WHERE doc_type = ? AND id = ?`, d.Type, d.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to commit %s/%s: %w", d.Type, d.ID, domain.ErrNotFound)
	}
	if err != nil {
		return s.classify(ctx, "check version", err)
	}
	return domain.NewVersionMismatch(c.ExpectedVersion, current)
}

// appendSnapshotTx is the ledger append. It is only reachable from Commit.
func appendSnapshotTx(ctx context.Context, tx *sql.Tx, snap *domain.HistorySnapshot) error {
	payload, err := encodePayload(snap.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO history (doc_type, document_id, version, owner_id, payload, deleted, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.DocumentType, snap.DocumentID, snap.Version, snap.OwnerID, payload, snap.Deleted,
		snap.RecordedAt.UnixNano(),
	)
	return err
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// classify keeps cancellation visible to callers and reports everything else
// as an unavailable store.
func (s *SQLiteStore) classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return domain.Unavailable(op, err)
}

func (s *SQLiteStore) Ledger() HistoryLedger {
	return &sqliteLedger{store: s}
}

type sqliteLedger struct {
	store *SQLiteStore
}

const historyColumns = `doc_type, document_id, version, owner_id, payload, deleted, recorded_at`

func scanSnapshot(row rowScanner) (*domain.HistorySnapshot, error) {
	var (
		snap       domain.HistorySnapshot
		payload    string
		recordedAt int64
	)
	if err := row.Scan(&snap.DocumentType, &snap.DocumentID, &snap.Version, &snap.OwnerID, &payload, &snap.Deleted, &recordedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &snap.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	snap.RecordedAt = time.Unix(0, recordedAt).UTC()
	return &snap, nil
}

func (l *sqliteLedger) ListFor(ctx context.Context, docType, documentID string) ([]*domain.HistorySnapshot, error) {
	rows, err := l.store.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM history
		 WHERE doc_type = ? AND document_id = ?
		 ORDER BY version ASC`, docType, documentID)
	if err != nil {
		return nil, l.store.classify(ctx, "list history", err)
	}
	defer rows.Close()

	snapshots := []*domain.HistorySnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, l.store.classify(ctx, "list history", err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, l.store.classify(ctx, "list history", err)
	}
	return snapshots, nil
}

func (l *sqliteLedger) Get(ctx context.Context, docType, documentID string, version int64) (*domain.HistorySnapshot, error) {
	row := l.store.db.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM history
		 WHERE doc_type = ? AND document_id = ? AND version = ?`, docType, documentID, version)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to find snapshot %s/%s@%d: %w", docType, documentID, version, domain.ErrNotFound)
	}
	if err != nil {
		return nil, l.store.classify(ctx, "get history", err)
	}
	return snap, nil
}
