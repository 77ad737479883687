package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"docvault-server/internal/domain"
)

// DocumentStore persists versioned documents. Commit is the only write path:
// it applies the new state, the expected-version check and the history append
// as one atomic step, and returns domain.ErrVersionMismatch (wrapped) when the
// stored document is no longer at c.ExpectedVersion.
type DocumentStore interface {
	Get(ctx context.Context, docType, id string) (*domain.Document, error)
	List(ctx context.Context, docType, ownerID string) ([]*domain.Document, error)
	Commit(ctx context.Context, c *domain.Commit) error
	Ledger() HistoryLedger
	Close() error
}

// HistoryLedger reads the append-only record of replaced document states.
// Appends happen inside DocumentStore.Commit and nowhere else.
type HistoryLedger interface {
	ListFor(ctx context.Context, docType, documentID string) ([]*domain.HistorySnapshot, error)
	Get(ctx context.Context, docType, documentID string, version int64) (*domain.HistorySnapshot, error)
}

func documentKey(docType, id string) string {
	return docType + "/" + id
}

func sortSnapshots(s []*domain.HistorySnapshot) {
	sort.Slice(s, func(i, j int) bool { return s[i].Version < s[j].Version })
}

func sortDocuments(d []*domain.Document) {
	sort.Slice(d, func(i, j int) bool {
		if d[i].CreatedAt.Equal(d[j].CreatedAt) {
			return d[i].ID < d[j].ID
		}
		return d[i].CreatedAt.Before(d[j].CreatedAt)
	})
}

// payloadChecksum identifies a snapshot's content; encoding/json sorts map
// keys so equal payloads hash equally.
func payloadChecksum(s *domain.HistorySnapshot) (string, error) {
	data, err := json.Marshal(struct {
		Payload map[string]interface{} `json:"payload"`
		Deleted bool                   `json:"deleted"`
		Owner   string                 `json:"owner"`
	}{s.Payload, s.Deleted, s.OwnerID})
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func isVersionMismatch(err error) bool {
	return errors.Is(err, domain.ErrVersionMismatch)
}

func duplicateSnapshot(s *domain.HistorySnapshot) error {
	return &domain.InvariantError{
		Type:    s.DocumentType,
		ID:      s.DocumentID,
		Version: s.Version,
		Detail:  "history snapshot already recorded for this version",
	}
}
