package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/log"
)

// Embedder produces an embedding vector for a text. The Sequencer uses it
// for the best-effort embedding refresh after a successful write; failures
// are logged, never surfaced.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Sequencer assigns version numbers for document edits.
//
// The algorithm is read-max-then-insert guarded by the store's unique
// constraint on (document_id, version_number): when two writers race for
// the same document, the loser's insert fails with ErrDuplicateVersion and
// is retried with a fresh read. After maxAttempts losses the call fails
// with ErrVersionConflict. Writes to different documents never contend.
//
// Sequencer is safe for concurrent use.
type Sequencer struct {
	store       Store
	embedder    Embedder // nil disables embedding refresh
	logger      log.Logger
	maxAttempts int
}

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithMaxAttempts bounds the retry loop. Values below 1 are ignored.
func WithMaxAttempts(n int) SequencerOption {
	return func(s *Sequencer) {
		if n >= 1 {
			s.maxAttempts = n
		}
	}
}

// WithEmbedder enables the best-effort embedding refresh after writes.
func WithEmbedder(e Embedder) SequencerOption {
	return func(s *Sequencer) {
		s.embedder = e
	}
}

// defaultMaxAttempts is enough for a handful of writers racing on one
// document: each failed attempt means another writer committed, so N
// concurrent writers need at most N attempts each.
const defaultMaxAttempts = 5

// NewSequencer creates a Sequencer over store.
func NewSequencer(store Store, logger log.Logger, opts ...SequencerOption) *Sequencer {
	if logger == nil {
		logger = log.New(log.Config{})
	}

	s := &Sequencer{
		store:       store,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDocument builds a Document with a fresh ID and timestamps. It does not
// persist anything.
func NewDocument(title, content, ownerID string, public bool, tags []string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		OwnerID:   ownerID,
		Public:    public,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CreateDocument persists a new document together with its initial version
// (version 1). The returned document has CurrentVersion set.
func (s *Sequencer) CreateDocument(ctx context.Context, title, content, ownerID string, public bool, tags []string) (*Document, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}

	doc := NewDocument(title, content, ownerID, public, tags)
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}

	if _, err := s.CreateVersion(ctx, doc.ID, content, "Initial version", ownerID); err != nil {
		// Remove the versionless document so a failed create leaves nothing
		// behind.
		if delErr := s.store.DeleteDocument(ctx, doc.ID); delErr != nil {
			s.logger.Warn("removing document after failed initial version",
				"document_id", doc.ID, "error", delErr)
		}
		return nil, fmt.Errorf("creating initial version: %w", err)
	}
	doc.CurrentVersion = 1

	return doc, nil
}

// CreateVersion records a content-changing write as a new immutable version
// and advances the document's content and current_version pointer.
//
// Preconditions: the document exists (ErrNotFound otherwise) and content is
// non-empty (ErrEmptyContent). A successful call emits exactly one Version
// and one document update; a failed call commits nothing.
func (s *Sequencer) CreateVersion(ctx context.Context, documentID, content, changeNote, author string) (*Version, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	if changeNote == "" {
		changeNote = "No change description provided"
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		maxSeen, err := s.store.MaxVersionNumber(ctx, documentID)
		if err != nil {
			return nil, fmt.Errorf("reading max version for %s: %w", documentID, err)
		}

		v := &Version{
			ID:            uuid.NewString(),
			DocumentID:    documentID,
			VersionNumber: maxSeen + 1,
			Content:       content,
			ChangeNote:    changeNote,
			Author:        author,
			CreatedAt:     time.Now().UTC(),
		}

		err = s.store.InsertVersionAndAdvance(ctx, v)
		if err == nil {
			s.logger.Debug("created version",
				"document_id", documentID,
				"version", v.VersionNumber,
				"attempt", attempt)
			s.refreshEmbedding(ctx, documentID, content)
			return v, nil
		}
		if !errors.Is(err, ErrDuplicateVersion) {
			return nil, fmt.Errorf("persisting version %d for %s: %w", v.VersionNumber, documentID, err)
		}

		// Another writer committed this number first; re-read and retry.
		lastErr = err
		s.logger.Debug("version number taken, retrying",
			"document_id", documentID,
			"version", v.VersionNumber,
			"attempt", attempt)
	}

	return nil, fmt.Errorf("%w: document %s after %d attempts: %w",
		ErrVersionConflict, documentID, s.maxAttempts, lastErr)
}

// RefreshEmbedding regenerates and stores the embedding for the document's
// current content. Unlike the implicit refresh after a write, failures here
// are returned to the caller (it backs the explicit re-embed endpoint).
func (s *Sequencer) RefreshEmbedding(ctx context.Context, documentID string) error {
	if s.embedder == nil {
		return fmt.Errorf("no embedder configured")
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	vec, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %s: %w", documentID, err)
	}

	return s.store.SetEmbedding(ctx, documentID, vec)
}

// refreshEmbedding is the best-effort, non-fatal path run after a
// successful write. Embedding failures must never block the write itself;
// they are logged and can be retried later via RefreshEmbedding.
func (s *Sequencer) refreshEmbedding(ctx context.Context, documentID, content string) {
	if s.embedder == nil {
		return
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		s.logger.Warn("embedding refresh failed, document saved without embedding",
			"document_id", documentID,
			"error", err)
		return
	}

	if err := s.store.SetEmbedding(ctx, documentID, vec); err != nil {
		s.logger.Warn("storing embedding failed",
			"document_id", documentID,
			"error", err)
	}
}
