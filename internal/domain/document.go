package domain

import "time"

// InitialVersion is the version every document is created with.
const InitialVersion int64 = 1

// Versioned is embedded by every document taking part in optimistic
// concurrency control. Only the document service moves it forward.
type Versioned struct {
	DocVersion int64 `json:"doc_version"`
}

func (v Versioned) Version() int64 { return v.DocVersion }

// NextVersion is the version a successful mutation commits.
func (v Versioned) NextVersion() int64 { return v.DocVersion + 1 }

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// CommitEvent announces a committed mutation to the owner's other sessions.
type CommitEvent struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	OwnerID    string    `json:"-"`
	Operation  Operation `json:"operation"`
	DocVersion int64     `json:"doc_version"`
	At         time.Time `json:"at"`
}

type Document struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	OwnerID string `json:"owner_id"`
	Versioned

	Payload map[string]interface{} `json:"payload"`
	Deleted bool                   `json:"deleted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Payload = ClonePayload(d.Payload)
	return &c
}

// HistorySnapshot is an immutable ledger entry holding the state a document
// had at Version, right before the mutation that replaced it.
type HistorySnapshot struct {
	DocumentType string                 `json:"document_type"`
	DocumentID   string                 `json:"document_id"`
	Version      int64                  `json:"version"`
	OwnerID      string                 `json:"owner_id"`
	Payload      map[string]interface{} `json:"payload"`
	Deleted      bool                   `json:"deleted"`
	RecordedAt   time.Time              `json:"recorded_at"`
}

// SnapshotOf captures d as a ledger entry tagged with its current version.
func SnapshotOf(d *Document, at time.Time) *HistorySnapshot {
	return &HistorySnapshot{
		DocumentType: d.Type,
		DocumentID:   d.ID,
		Version:      d.DocVersion,
		OwnerID:      d.OwnerID,
		Payload:      ClonePayload(d.Payload),
		Deleted:      d.Deleted,
		RecordedAt:   at,
	}
}

func (s *HistorySnapshot) Clone() *HistorySnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Payload = ClonePayload(s.Payload)
	return &c
}

// Commit is the unit a DocumentStore applies atomically: the new document
// state, the version the stored document must still be at, and the optional
// snapshot of the state being replaced. ExpectedVersion 0 means the document
// must not exist yet.
type Commit struct {
	Operation       Operation
	Document        *Document
	ExpectedVersion int64
	Snapshot        *HistorySnapshot
}

// Validate checks the version arithmetic every store relies on. A failure
// here is a bug in the caller, never a client error.
func (c *Commit) Validate() error {
	if c.Document == nil {
		return &InvariantError{Detail: "commit without document"}
	}
	d := c.Document
	fail := func(detail string) error {
		return &InvariantError{Type: d.Type, ID: d.ID, Version: d.DocVersion, Detail: detail}
	}
	if c.ExpectedVersion < 0 {
		return fail("negative expected version")
	}
	if d.DocVersion != c.ExpectedVersion+1 {
		return fail("version must advance by exactly one")
	}
	if c.Operation == OperationCreate && c.ExpectedVersion != 0 {
		return fail("create must start from an absent document")
	}
	if c.Operation != OperationCreate && c.ExpectedVersion == 0 {
		return fail("mutation of an absent document")
	}
	if s := c.Snapshot; s != nil {
		if c.Operation == OperationCreate {
			return fail("create cannot carry a snapshot")
		}
		if s.Version != c.ExpectedVersion {
			return fail("snapshot must carry the pre-mutation version")
		}
		if s.DocumentID != d.ID || s.DocumentType != d.Type {
			return fail("snapshot belongs to another document")
		}
	}
	return nil
}

type ChangeMode string

const (
	ChangeReplace ChangeMode = "replace"
	ChangeMerge   ChangeMode = "merge"
)

// Change is a validated domain mutation of a document payload.
type Change struct {
	Mode    ChangeMode
	Payload map[string]interface{}
}

// Apply returns the payload produced by applying c to current. Merge changes
// overwrite top-level keys and remove the ones set to null.
func (c Change) Apply(current map[string]interface{}) map[string]interface{} {
	if c.Mode != ChangeMerge {
		return ClonePayload(c.Payload)
	}
	out := ClonePayload(current)
	if out == nil {
		out = make(map[string]interface{}, len(c.Payload))
	}
	for k, v := range c.Payload {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// ClonePayload deep-copies a decoded JSON object.
func ClonePayload(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return ClonePayload(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

type CreateDocumentRequest struct {
	Payload map[string]interface{} `json:"payload" validate:"required"`
}

type UpdateDocumentRequest struct {
	Payload map[string]interface{} `json:"payload" validate:"required"`
}

type DocumentResponse struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	DocVersion int64                  `json:"doc_version"`
	Payload    map[string]interface{} `json:"payload"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func (d *Document) ToResponse() *DocumentResponse {
	return &DocumentResponse{
		ID:         d.ID,
		Type:       d.Type,
		DocVersion: d.DocVersion,
		Payload:    d.Payload,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type HistorySnapshotResponse struct {
	DocumentID string                 `json:"document_id"`
	Version    int64                  `json:"version"`
	Payload    map[string]interface{} `json:"payload"`
	Deleted    bool                   `json:"deleted"`
	RecordedAt time.Time              `json:"recorded_at"`
}

func (s *HistorySnapshot) ToResponse() *HistorySnapshotResponse {
	return &HistorySnapshotResponse{
		DocumentID: s.DocumentID,
		Version:    s.Version,
		Payload:    s.Payload,
		Deleted:    s.Deleted,
		RecordedAt: s.RecordedAt,
	}
}

// HistoryPage is one page of a document's ledger, oldest first.
type HistoryPage struct {
	Items   []*HistorySnapshotResponse `json:"items"`
	Page    int                        `json:"page"`
	PerPage int                        `json:"per_page"`
	Total   int                        `json:"total"`
}
