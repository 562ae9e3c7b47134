// Package document defines the versioned document model and its stores.
//
// A Document carries mutable current state (content, tags, visibility, the
// current_version pointer) while every content-changing write is recorded
// as an immutable Version. The Sequencer assigns version numbers: strictly
// increasing, gap-free per document, enforced with a unique constraint on
// (document_id, version_number) and a bounded retry loop.
//
// Two Store implementations exist: PostgresStore (pgx + pgvector, the
// production path) and MemoryStore (per-document locking, used by tests and
// as the fixture store).
package document

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for document and version operations.
// Check with errors.Is.
var (
	// ErrNotFound indicates an unknown document or version.
	ErrNotFound = errors.New("document not found")

	// ErrDuplicateVersion indicates an insert hit the unique constraint on
	// (document_id, version_number). The Sequencer retries on it.
	ErrDuplicateVersion = errors.New("duplicate version number")

	// ErrVersionConflict indicates the sequencing retry budget was
	// exhausted. The caller may resubmit.
	ErrVersionConflict = errors.New("version conflict")

	// ErrEmptyContent indicates a write with empty content was rejected
	// before any persistence.
	ErrEmptyContent = errors.New("content must not be empty")
)

// Document is the mutable current state of a stored document.
type Document struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	OwnerID        string    `json:"owner_id"`
	Public         bool      `json:"public"`
	Tags           []string  `json:"tags,omitempty"`
	CurrentVersion int       `json:"current_version"`
	Embedding      []float32 `json:"-"` // absent until the first successful embed
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Version is an immutable full-content snapshot of one edit.
type Version struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	VersionNumber int       `json:"version_number"`
	Content       string    `json:"content"`
	ChangeNote    string    `json:"change_note"`
	Author        string    `json:"author"`
	CreatedAt     time.Time `json:"created_at"`
}

// Feedback records a user's rating of a generated answer.
type Feedback struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Rating    int       `json:"rating"` // 1 (unhelpful) .. 5 (helpful)
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence boundary the core depends on. Both the postgres
// and in-memory implementations satisfy it.
//
// Visibility rule: a document is visible to a requester when the requester
// owns it or it is public. List and search methods apply this filter
// store-side.
type Store interface {
	// CreateDocument persists a new document. The caller provides ID and
	// timestamps via NewDocument.
	CreateDocument(ctx context.Context, doc *Document) error

	// GetDocument returns a document by ID, or ErrNotFound.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// UpdateDocument saves mutable metadata (title, visibility, tags).
	// Content changes go through the Sequencer, not here.
	UpdateDocument(ctx context.Context, doc *Document) error

	// DeleteDocument removes a document and all its versions.
	DeleteDocument(ctx context.Context, id string) error

	// ListVisible returns documents visible to requesterID ordered by
	// most recently updated.
	ListVisible(ctx context.Context, requesterID string, limit, offset int) ([]*Document, error)

	// CountVisible returns how many documents are visible to requesterID.
	CountVisible(ctx context.Context, requesterID string) (int, error)

	// SearchKeyword returns up to limit visible documents matching query,
	// ordered by the store's own text-relevance score (best first).
	SearchKeyword(ctx context.Context, requesterID, query string, limit int) ([]*Document, error)

	// SetEmbedding stores the embedding vector for a document.
	SetEmbedding(ctx context.Context, id string, vector []float32) error

	// MaxVersionNumber returns the highest version number recorded for the
	// document, 0 when none exist, ErrNotFound for an unknown document.
	MaxVersionNumber(ctx context.Context, documentID string) (int, error)

	// InsertVersionAndAdvance atomically persists v and advances the owning
	// document's content and current_version to match. It returns
	// ErrDuplicateVersion when v.VersionNumber is already taken and
	// ErrNotFound when the document does not exist. Nothing is committed on
	// failure.
	InsertVersionAndAdvance(ctx context.Context, v *Version) error

	// ListVersions returns all versions of a document, newest first.
	ListVersions(ctx context.Context, documentID string) ([]*Version, error)

	// GetVersion returns one version by number, or ErrNotFound.
	GetVersion(ctx context.Context, documentID string, versionNumber int) (*Version, error)

	// SaveFeedback records answer feedback.
	SaveFeedback(ctx context.Context, fb *Feedback) error

	// LogActivity appends one audit record. ID and CreatedAt are assigned
	// by the store when absent.
	LogActivity(ctx context.Context, a *Activity) error

	// ListActivities returns a user's audit records newest first,
	// optionally filtered to the given actions (nil means all).
	ListActivities(ctx context.Context, userID string, actions []string, limit, offset int) ([]*Activity, error)
}

// Visible reports whether doc may be read by requesterID.
func (d *Document) Visible(requesterID string) bool {
	return d.Public || d.OwnerID == requesterID
}
