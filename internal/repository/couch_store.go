package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"docvault-server/internal/domain"
	"docvault-server/internal/logger"

	"github.com/go-kivik/kivik/v4"
)

const (
	couchKindDocument = "document"
	couchKindHistory  = "history"

	couchListLimit = 10000
)

// couchDocument is the stored form of a document. PendingSnapshot travels in
// the same revision as the version bump, which makes CouchDB's single-document
// _rev check the atomic commit. Snapshots are then copied into their own
// history documents; a pending snapshot is always copied before the revision
// that carries it is replaced.
type couchDocument struct {
	ID              string                 `json:"_id"`
	Rev             string                 `json:"_rev,omitempty"`
	Kind            string                 `json:"kind"`
	DocType         string                 `json:"doc_type"`
	DocumentID      string                 `json:"document_id"`
	OwnerID         string                 `json:"owner_id"`
	DocVersion      int64                  `json:"doc_version"`
	Payload         map[string]interface{} `json:"payload"`
	Deleted         bool                   `json:"deleted"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	PendingSnapshot *couchSnapshot         `json:"pending_snapshot,omitempty"`
}

type couchSnapshot struct {
	ID         string                 `json:"_id"`
	Rev        string                 `json:"_rev,omitempty"`
	Kind       string                 `json:"kind"`
	DocType    string                 `json:"doc_type"`
	DocumentID string                 `json:"document_id"`
	Version    int64                  `json:"version"`
	OwnerID    string                 `json:"owner_id"`
	Payload    map[string]interface{} `json:"payload"`
	Deleted    bool                   `json:"deleted"`
	RecordedAt time.Time              `json:"recorded_at"`
	Checksum   string                 `json:"checksum"`
}

func couchDocumentID(docType, id string) string {
	return fmt.Sprintf("document:%s:%s", docType, id)
}

// couchHistoryPrefix orders a document's snapshots by _id; versions are
// zero-padded so lexical order is numeric order.
func couchHistoryPrefix(docType, id string) string {
	return fmt.Sprintf("history:%s:%s:", docType, id)
}

func couchHistoryID(docType, id string, version int64) string {
	return fmt.Sprintf("%s%020d", couchHistoryPrefix(docType, id), version)
}

func toCouchDocument(d *domain.Document) *couchDocument {
	return &couchDocument{
		ID:         couchDocumentID(d.Type, d.ID),
		Kind:       couchKindDocument,
		DocType:    d.Type,
		DocumentID: d.ID,
		OwnerID:    d.OwnerID,
		DocVersion: d.DocVersion,
		Payload:    d.Payload,
		Deleted:    d.Deleted,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func (c *couchDocument) toDomain() *domain.Document {
	return &domain.Document{
		ID:        c.DocumentID,
		Type:      c.DocType,
		OwnerID:   c.OwnerID,
		Versioned: domain.Versioned{DocVersion: c.DocVersion},
		Payload:   c.Payload,
		Deleted:   c.Deleted,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toCouchSnapshot(s *domain.HistorySnapshot) (*couchSnapshot, error) {
	sum, err := payloadChecksum(s)
	if err != nil {
		return nil, err
	}
	return &couchSnapshot{
		ID:         couchHistoryID(s.DocumentType, s.DocumentID, s.Version),
		Kind:       couchKindHistory,
		DocType:    s.DocumentType,
		DocumentID: s.DocumentID,
		Version:    s.Version,
		OwnerID:    s.OwnerID,
		Payload:    s.Payload,
		Deleted:    s.Deleted,
		RecordedAt: s.RecordedAt,
		Checksum:   sum,
	}, nil
}

func (c *couchSnapshot) toDomain() *domain.HistorySnapshot {
	return &domain.HistorySnapshot{
		DocumentType: c.DocType,
		DocumentID:   c.DocumentID,
		Version:      c.Version,
		OwnerID:      c.OwnerID,
		Payload:      c.Payload,
		Deleted:      c.Deleted,
		RecordedAt:   c.RecordedAt,
	}
}

type CouchStore struct {
	client *kivik.Client
	db     *kivik.DB
	dbName string
	log    *logger.Logger
}

// NewCouchStore opens dbName, creating it when missing.
func NewCouchStore(ctx context.Context, client *kivik.Client, dbName string, log *logger.Logger) (*CouchStore, error) {
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		log.Info("created database").Str("database", dbName).Send()
	}

	return &CouchStore{
		client: client,
		db:     client.DB(dbName),
		dbName: dbName,
		log:    log.Store("couch"),
	}, nil
}

func isCouchStatus(err error, status int) bool {
	return err != nil && kivik.HTTPStatus(err) == status
}

func couchError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return domain.Unavailable(op, err)
}

func (s *CouchStore) load(ctx context.Context, docType, id string) (*couchDocument, error) {
	var doc couchDocument
	if err := s.db.Get(ctx, couchDocumentID(docType, id)).ScanDoc(&doc); err != nil {
		if isCouchStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("failed to find %s/%s: %w", docType, id, domain.ErrNotFound)
		}
		return nil, couchError(ctx, "get document", err)
	}
	return &doc, nil
}

func (s *CouchStore) Get(ctx context.Context, docType, id string) (*domain.Document, error) {
	doc, err := s.load(ctx, docType, id)
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *CouchStore) List(ctx context.Context, docType, ownerID string) ([]*domain.Document, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"kind":     couchKindDocument,
			"doc_type": docType,
			"owner_id": ownerID,
			"deleted":  false,
		},
		"limit": couchListLimit,
	}

	rows := s.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, couchError(ctx, "list documents", err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		var doc couchDocument
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, couchError(ctx, "list documents", err)
		}
		docs = append(docs, doc.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, couchError(ctx, "list documents", err)
	}

	sortDocuments(docs)
	return docs, nil
}

func (s *CouchStore) Commit(ctx context.Context, c *domain.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}
	d := c.Document
	next := toCouchDocument(d)

	if c.Operation == domain.OperationCreate {
		if _, err := s.db.Put(ctx, next.ID, next); err != nil {
			if isCouchStatus(err, http.StatusConflict) {
				return domain.NewVersionMismatch(0, s.currentVersion(ctx, d.Type, d.ID))
			}
			return couchError(ctx, "create document", err)
		}
		return nil
	}

	current, err := s.load(ctx, d.Type, d.ID)
	if err != nil {
		return err
	}
	if current.DocVersion != c.ExpectedVersion {
		return domain.NewVersionMismatch(c.ExpectedVersion, current.DocVersion)
	}

	if current.PendingSnapshot != nil {
		if err := s.appendSnapshot(ctx, current.PendingSnapshot); err != nil {
			return err
		}
	}

	if c.Snapshot != nil {
		pending, err := toCouchSnapshot(c.Snapshot)
		if err != nil {
			return err
		}
		if err := s.ensureNoSnapshot(ctx, pending.ID, c); err != nil {
			return err
		}
		next.PendingSnapshot = pending
	}

	next.Rev = current.Rev
	if _, err := s.db.Put(ctx, next.ID, next); err != nil {
		if isCouchStatus(err, http.StatusConflict) {
			return domain.NewVersionMismatch(c.ExpectedVersion, s.currentVersion(ctx, d.Type, d.ID))
		}
		return couchError(ctx, "write document", err)
	}

	// The snapshot is durable inside the committed revision; copying it out
	// now only saves the next commit a round trip.
	if next.PendingSnapshot != nil {
		if err := s.appendSnapshot(ctx, next.PendingSnapshot); err != nil {
			s.log.Warn("deferred history append").
				Str("doc_type", d.Type).
				Str("document_id", d.ID).
				Int64("version", next.PendingSnapshot.Version).
				Err(err).
				Send()
		}
	}
	return nil
}

func (s *CouchStore) currentVersion(ctx context.Context, docType, id string) int64 {
	doc, err := s.load(ctx, docType, id)
	if err != nil {
		return -1
	}
	return doc.DocVersion
}

// ensureNoSnapshot refuses to commit over an already recorded snapshot. A
// racer that committed from the same version records exactly that snapshot,
// so the document is re-read: if it has moved on, this commit lost the race.
func (s *CouchStore) ensureNoSnapshot(ctx context.Context, historyID string, c *domain.Commit) error {
	var existing couchSnapshot
	err := s.db.Get(ctx, historyID).ScanDoc(&existing)
	switch {
	case isCouchStatus(err, http.StatusNotFound):
		return nil
	case err != nil:
		return couchError(ctx, "check history", err)
	}

	d := c.Document
	current, err := s.load(ctx, d.Type, d.ID)
	if err != nil {
		return err
	}
	if current.DocVersion != c.ExpectedVersion {
		return domain.NewVersionMismatch(c.ExpectedVersion, current.DocVersion)
	}
	return duplicateSnapshot(c.Snapshot)
}

// appendSnapshot is the ledger append. Re-appending an identical snapshot is
// a no-op; a different snapshot under the same version is an invariant
// violation.
func (s *CouchStore) appendSnapshot(ctx context.Context, snap *couchSnapshot) error {
	doc := *snap
	doc.Rev = ""
	_, err := s.db.Put(ctx, doc.ID, &doc)
	if err == nil {
		return nil
	}
	if !isCouchStatus(err, http.StatusConflict) {
		return couchError(ctx, "append history", err)
	}

	var existing couchSnapshot
	if err := s.db.Get(ctx, doc.ID).ScanDoc(&existing); err != nil {
		return couchError(ctx, "append history", err)
	}
	if existing.Checksum != doc.Checksum {
		return duplicateSnapshot(doc.toDomain())
	}
	return nil
}

func (s *CouchStore) Ledger() HistoryLedger {
	return &couchLedger{store: s}
}

func (s *CouchStore) Close() error {
	return s.client.Close()
}

type couchLedger struct {
	store *CouchStore
}

func (l *couchLedger) ListFor(ctx context.Context, docType, documentID string) ([]*domain.HistorySnapshot, error) {
	prefix := couchHistoryPrefix(docType, documentID)
	rows := l.store.db.AllDocs(ctx, kivik.Params(map[string]interface{}{
		"include_docs": true,
		"startkey":     prefix,
		"endkey":       prefix + "￰",
	}))
	if err := rows.Err(); err != nil {
		return nil, couchError(ctx, "list history", err)
	}
	defer rows.Close()

	seen := make(map[int64]bool)
	snapshots := []*domain.HistorySnapshot{}
	for rows.Next() {
		var snap couchSnapshot
		if err := rows.ScanDoc(&snap); err != nil {
			return nil, couchError(ctx, "list history", err)
		}
		seen[snap.Version] = true
		snapshots = append(snapshots, snap.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, couchError(ctx, "list history", err)
	}

	current, err := l.store.load(ctx, docType, documentID)
	switch {
	case err == nil:
		if p := current.PendingSnapshot; p != nil && !seen[p.Version] {
			snapshots = append(snapshots, p.toDomain())
		}
	case isNotFound(err):
	default:
		return nil, err
	}

	sortSnapshots(snapshots)
	return snapshots, nil
}

func (l *couchLedger) Get(ctx context.Context, docType, documentID string, version int64) (*domain.HistorySnapshot, error) {
	snapshots, err := l.ListFor(ctx, docType, documentID)
	if err != nil {
		return nil, err
	}
	for _, s := range snapshots {
		if s.Version == version {
			return s, nil
		}
	}
	return nil, fmt.Errorf("failed to find snapshot %s/%s@%d: %w", docType, documentID, version, domain.ErrNotFound)
}
