package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docvault-server/internal/domain"
	"docvault-server/internal/logger"
	"docvault-server/internal/metrics"
	"docvault-server/internal/repository"
	"docvault-server/pkg/pagination"

	"github.com/google/uuid"
)

// Notifier receives committed mutations. Delivery is best effort.
type Notifier interface {
	DocumentCommitted(event *domain.CommitEvent)
}

// DocumentService is the only code that moves a document's version forward.
// Every mutation becomes one domain.Commit handed to the store, which applies
// it only if the stored document is still at the version the caller read.
type DocumentService struct {
	store    repository.DocumentStore
	ledger   repository.HistoryLedger
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger

	now   func() time.Time
	newID func() string
}

func NewDocumentService(store repository.DocumentStore, log *logger.Logger, m *metrics.Metrics) *DocumentService {
	return &DocumentService{
		store:   store,
		ledger:  store.Ledger(),
		metrics: m,
		log:     log.Component("documents"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

func (s *DocumentService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Resolve loads a live document and checks that userID owns it. Ownership is
// checked before anything version related so a caller never learns the
// version of someone else's document.
func (s *DocumentService) Resolve(ctx context.Context, typ domain.DocumentType, id, userID string) (*domain.Document, error) {
	doc, err := s.store.Get(ctx, typ.Name, id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != userID {
		return nil, fmt.Errorf("%s/%s: %w", typ.Name, id, domain.ErrForbidden)
	}
	if doc.Deleted {
		return nil, fmt.Errorf("%s/%s is deleted: %w", typ.Name, id, domain.ErrNotFound)
	}
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, typ domain.DocumentType, id, userID string) (*domain.Document, error) {
	return s.Resolve(ctx, typ, id, userID)
}

func (s *DocumentService) List(ctx context.Context, typ domain.DocumentType, ownerID string) ([]*domain.Document, error) {
	docs, err := s.store.List(ctx, typ.Name, ownerID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []*domain.Document{}
	}
	return docs, nil
}

// Create stores a new document at version 1. An empty id is replaced by a
// generated one; a taken id fails with a version mismatch against the
// existing document.
func (s *DocumentService) Create(ctx context.Context, typ domain.DocumentType, ownerID, id string, payload map[string]interface{}) (*domain.Document, error) {
	if id == "" {
		id = s.newID()
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	now := s.now()
	doc := &domain.Document{
		ID:        id,
		Type:      typ.Name,
		OwnerID:   ownerID,
		Versioned: domain.Versioned{DocVersion: domain.InitialVersion},
		Payload:   domain.ClonePayload(payload),
		CreatedAt: now,
		UpdatedAt: now,
	}

	c := &domain.Commit{Operation: domain.OperationCreate, Document: doc}
	if err := s.commit(ctx, typ, c); err != nil {
		return nil, err
	}
	return doc, nil
}

// Update applies change to current, the document as read when the request's
// precondition was checked.
func (s *DocumentService) Update(ctx context.Context, typ domain.DocumentType, current *domain.Document, change domain.Change) (*domain.Document, error) {
	next := current.Clone()
	next.Payload = change.Apply(current.Payload)
	return s.mutate(ctx, typ, domain.OperationUpdate, current, next)
}

// Delete marks current as deleted. The document keeps its identity and its
// history; reads report it as not found.
func (s *DocumentService) Delete(ctx context.Context, typ domain.DocumentType, current *domain.Document) (*domain.Document, error) {
	next := current.Clone()
	next.Deleted = true
	return s.mutate(ctx, typ, domain.OperationDelete, current, next)
}

func (s *DocumentService) mutate(ctx context.Context, typ domain.DocumentType, op domain.Operation, current, next *domain.Document) (*domain.Document, error) {
	now := s.now()
	next.DocVersion = current.NextVersion()
	next.UpdatedAt = now

	c := &domain.Commit{
		Operation:       op,
		Document:        next,
		ExpectedVersion: current.DocVersion,
	}
	if typ.Historized {
		c.Snapshot = domain.SnapshotOf(current, now)
	}

	if err := s.commit(ctx, typ, c); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *DocumentService) commit(ctx context.Context, typ domain.DocumentType, c *domain.Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d := c.Document
	err := s.store.Commit(ctx, c)
	switch {
	case err == nil:
		s.metrics.RecordCommit(typ.Name, string(c.Operation), metrics.OutcomeCommitted, c.Snapshot != nil)
	case errors.Is(err, domain.ErrVersionMismatch):
		s.metrics.RecordCommit(typ.Name, string(c.Operation), metrics.OutcomeConflict, false)
		s.metrics.RecordPreconditionFailure(typ.Name, "version_mismatch")
		s.log.Info("commit lost race").
			Str("doc_type", d.Type).
			Str("document_id", d.ID).
			Int64("expected", c.ExpectedVersion).
			Err(err).
			Send()
		return err
	case errors.Is(err, domain.ErrNotFound):
		s.metrics.RecordCommit(typ.Name, string(c.Operation), metrics.OutcomeNotFound, false)
		return err
	case errors.Is(err, domain.ErrInvariantViolation):
		s.metrics.RecordCommit(typ.Name, string(c.Operation), metrics.OutcomeError, false)
		s.metrics.RecordInvariantViolation()
		s.log.Error("history invariant violated").
			Str("doc_type", d.Type).
			Str("document_id", d.ID).
			Int64("expected", c.ExpectedVersion).
			Int64("version", d.DocVersion).
			Err(err).
			Send()
		return err
	default:
		s.metrics.RecordCommit(typ.Name, string(c.Operation), metrics.OutcomeError, false)
		return err
	}

	s.log.Debug("committed").
		Str("doc_type", d.Type).
		Str("document_id", d.ID).
		Str("operation", string(c.Operation)).
		Int64("version", d.DocVersion).
		Send()

	if s.notifier != nil {
		s.notifier.DocumentCommitted(&domain.CommitEvent{
			Type:       d.Type,
			ID:         d.ID,
			OwnerID:    d.OwnerID,
			Operation:  c.Operation,
			DocVersion: d.DocVersion,
			At:         d.UpdatedAt,
		})
	}
	return nil
}

// historyOwner checks access for history reads. Deleted documents keep their
// history, so tombstones are readable here.
func (s *DocumentService) historyOwner(ctx context.Context, typ domain.DocumentType, id, userID string) error {
	if !typ.Historized {
		return fmt.Errorf("%s: %w", typ.Name, domain.ErrHistoryNotRetained)
	}
	doc, err := s.store.Get(ctx, typ.Name, id)
	if err != nil {
		return err
	}
	if doc.OwnerID != userID {
		return fmt.Errorf("%s/%s: %w", typ.Name, id, domain.ErrForbidden)
	}
	return nil
}

// History returns one page of the document's ledger, oldest first.
func (s *DocumentService) History(ctx context.Context, typ domain.DocumentType, id, userID string, page pagination.Params) (*domain.HistoryPage, error) {
	if err := s.historyOwner(ctx, typ, id, userID); err != nil {
		return nil, err
	}

	snapshots, err := s.ledger.ListFor(ctx, typ.Name, id)
	if err != nil {
		return nil, err
	}

	start, end := page.Bounds(len(snapshots))
	items := make([]*domain.HistorySnapshotResponse, 0, end-start)
	for _, snap := range snapshots[start:end] {
		items = append(items, snap.ToResponse())
	}

	return &domain.HistoryPage{
		Items:   items,
		Page:    page.Page,
		PerPage: page.PerPage,
		Total:   len(snapshots),
	}, nil
}

func (s *DocumentService) HistoryVersion(ctx context.Context, typ domain.DocumentType, id, userID string, version int64) (*domain.HistorySnapshot, error) {
	if err := s.historyOwner(ctx, typ, id, userID); err != nil {
		return nil, err
	}
	return s.ledger.Get(ctx, typ.Name, id, version)
}
