package repository

import (
	"context"
	"time"

	"docvault-server/internal/domain"
	"docvault-server/internal/logger"
	"docvault-server/internal/metrics"
)

// InstrumentedStore times every store call and logs failures that are not
// ordinary outcomes (not found, version mismatch).
type InstrumentedStore struct {
	next    DocumentStore
	backend string
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewInstrumentedStore(next DocumentStore, backend string, m *metrics.Metrics, log *logger.Logger) *InstrumentedStore {
	return &InstrumentedStore{
		next:    next,
		backend: backend,
		metrics: m,
		log:     log.Store(backend),
	}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	s.metrics.ObserveStoreOperation(s.backend, op, elapsed)

	if err == nil || isNotFound(err) || isVersionMismatch(err) {
		s.log.Debug("store operation").Str("operation", op).Dur("duration", elapsed).Send()
		return
	}
	s.log.Warn("store operation failed").Str("operation", op).Dur("duration", elapsed).Err(err).Send()
}

func (s *InstrumentedStore) Get(ctx context.Context, docType, id string) (*domain.Document, error) {
	start := time.Now()
	d, err := s.next.Get(ctx, docType, id)
	s.observe("get", start, err)
	return d, err
}

func (s *InstrumentedStore) List(ctx context.Context, docType, ownerID string) ([]*domain.Document, error) {
	start := time.Now()
	docs, err := s.next.List(ctx, docType, ownerID)
	s.observe("list", start, err)
	return docs, err
}

func (s *InstrumentedStore) Commit(ctx context.Context, c *domain.Commit) error {
	start := time.Now()
	err := s.next.Commit(ctx, c)
	s.observe("commit", start, err)
	return err
}

func (s *InstrumentedStore) Ledger() HistoryLedger {
	return &instrumentedLedger{store: s, next: s.next.Ledger()}
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}

type instrumentedLedger struct {
	store *InstrumentedStore
	next  HistoryLedger
}

func (l *instrumentedLedger) ListFor(ctx context.Context, docType, documentID string) ([]*domain.HistorySnapshot, error) {
	start := time.Now()
	out, err := l.next.ListFor(ctx, docType, documentID)
	l.store.observe("history_list", start, err)
	return out, err
}

func (l *instrumentedLedger) Get(ctx context.Context, docType, documentID string, version int64) (*domain.HistorySnapshot, error) {
	start := time.Now()
	out, err := l.next.Get(ctx, docType, documentID, version)
	l.store.observe("history_get", start, err)
	return out, err
}
