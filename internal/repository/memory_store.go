package repository

import (
	"context"
	"fmt"
	"sync"

	"docvault-server/internal/domain"
)

// memoryEntry holds one document and its ledger. Its mutex is the only lock
// taken for that identity; distinct documents never share one.
type memoryEntry struct {
	mu      sync.Mutex
	doc     *domain.Document
	history []*domain.HistorySnapshot
}

// append records s. It runs under e.mu, before the document is replaced.
// Versions must follow the ledger head without gaps.
func (e *memoryEntry) append(s *domain.HistorySnapshot) error {
	if n := len(e.history); n > 0 {
		head := e.history[n-1].Version
		if s.Version <= head {
			for _, existing := range e.history {
				if existing.Version == s.Version {
					return duplicateSnapshot(s)
				}
			}
		}
		if s.Version != head+1 {
			return &domain.InvariantError{
				Type: s.DocumentType, ID: s.DocumentID, Version: s.Version,
				Detail: fmt.Sprintf("snapshot does not follow ledger head %d", head),
			}
		}
	}
	e.history = append(e.history, s.Clone())
	return nil
}

type MemoryStore struct {
	entries sync.Map // documentKey -> *memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) entry(docType, id string) (*memoryEntry, bool) {
	v, ok := s.entries.Load(documentKey(docType, id))
	if !ok {
		return nil, false
	}
	return v.(*memoryEntry), true
}

func (s *MemoryStore) Get(ctx context.Context, docType, id string) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.entry(docType, id)
	if !ok {
		return nil, fmt.Errorf("failed to find %s/%s: %w", docType, id, domain.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.doc == nil {
		return nil, fmt.Errorf("failed to find %s/%s: %w", docType, id, domain.ErrNotFound)
	}
	return e.doc.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, docType, ownerID string) ([]*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var docs []*domain.Document
	s.entries.Range(func(_, v interface{}) bool {
		e := v.(*memoryEntry)
		e.mu.Lock()
		if d := e.doc; d != nil && d.Type == docType && d.OwnerID == ownerID && !d.Deleted {
			docs = append(docs, d.Clone())
		}
		e.mu.Unlock()
		return true
	})

	sortDocuments(docs)
	return docs, nil
}

func (s *MemoryStore) Commit(ctx context.Context, c *domain.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}
	d := c.Document

	var e *memoryEntry
	if c.Operation == domain.OperationCreate {
		v, _ := s.entries.LoadOrStore(documentKey(d.Type, d.ID), &memoryEntry{})
		e = v.(*memoryEntry)
	} else {
		var ok bool
		if e, ok = s.entry(d.Type, d.ID); !ok {
			return fmt.Errorf("failed to commit %s/%s: %w", d.Type, d.ID, domain.ErrNotFound)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	switch current := e.doc; {
	case c.Operation == domain.OperationCreate && current != nil:
		return domain.NewVersionMismatch(0, current.DocVersion)
	case c.Operation != domain.OperationCreate && current == nil:
		return fmt.Errorf("failed to commit %s/%s: %w", d.Type, d.ID, domain.ErrNotFound)
	case current != nil && current.DocVersion != c.ExpectedVersion:
		return domain.NewVersionMismatch(c.ExpectedVersion, current.DocVersion)
	}

	if c.Snapshot != nil {
		if err := e.append(c.Snapshot); err != nil {
			return err
		}
	}
	e.doc = d.Clone()
	return nil
}

func (s *MemoryStore) Ledger() HistoryLedger {
	return &memoryLedger{store: s}
}

func (s *MemoryStore) Close() error {
	return nil
}

type memoryLedger struct {
	store *MemoryStore
}

func (l *memoryLedger) ListFor(ctx context.Context, docType, documentID string) ([]*domain.HistorySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := l.store.entry(docType, documentID)
	if !ok {
		return []*domain.HistorySnapshot{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*domain.HistorySnapshot, len(e.history))
	for i, s := range e.history {
		out[i] = s.Clone()
	}
	return out, nil
}

func (l *memoryLedger) Get(ctx context.Context, docType, documentID string, version int64) (*domain.HistorySnapshot, error) {
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
