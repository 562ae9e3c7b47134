package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/quillhq/quill/internal/log"
)

// DBPool is the subset of pgxpool.Pool the store needs. Defining it here
// keeps the store mockable and the dependency direction consumer-first.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store on PostgreSQL with pgvector.
//
// Version sequencing safety comes from the unique constraint on
// (document_id, version_number): InsertVersionAndAdvance surfaces constraint
// hits as ErrDuplicateVersion for the Sequencer's retry loop, and runs the
// version insert and document advance in one transaction so a failure never
// partially commits.
type PostgresStore struct {
	pool   DBPool
	logger log.Logger
}

// NewPostgresStore creates a PostgresStore over pool.
func NewPostgresStore(pool DBPool, logger log.Logger) *PostgresStore {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	return &PostgresStore{pool: pool, logger: logger}
}

const documentColumns = `id, title, content, owner_id, is_public, tags, current_version, embedding, created_at, updated_at`

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, title, content, owner_id, is_public, tags, current_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.Title, doc.Content, doc.OwnerID, doc.Public, doc.Tags,
		doc.CurrentVersion, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	s.logger.Debug("created document", "id", doc.ID, "owner", doc.OwnerID)
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	return doc, nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, doc *Document) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET title = $2, is_public = $3, tags = $4, updated_at = now()
		WHERE id = $1`,
		doc.ID, doc.Title, doc.Public, doc.Tags)
	if err != nil {
		return fmt.Errorf("updating document %s: %w", doc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	// Versions go with the document via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted document", "id", id)
	return nil
}

func (s *PostgresStore) ListVisible(ctx context.Context, requesterID string, limit, offset int) ([]*Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE owner_id = $1 OR is_public
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`,
		requesterID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (s *PostgresStore) CountVisible(ctx context.Context, requesterID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE owner_id = $1 OR is_public`,
		requesterID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// SearchKeyword ranks visible documents against query with PostgreSQL
// full-text search (ts_rank over title + content).
func (s *PostgresStore) SearchKeyword(ctx context.Context, requesterID, query string, limit int) ([]*Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE (owner_id = $1 OR is_public)
		  AND to_tsvector('english', title || ' ' || content) @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(to_tsvector('english', title || ' ' || content), plainto_tsquery('english', $2)) DESC
		LIMIT $3`,
		requesterID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (s *PostgresStore) SetEmbedding(ctx context.Context, id string, vector []float32) error {
	vec := pgvector.NewVector(vector)
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET embedding = $2 WHERE id = $1`, id, vec)
	if err != nil {
		return fmt.Errorf("storing embedding for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MaxVersionNumber(ctx context.Context, documentID string) (int, error) {
	var exists bool
	var maxSeen int
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1),
		       COALESCE((SELECT MAX(version_number) FROM versions WHERE document_id = $1), 0)`,
		documentID).Scan(&exists, &maxSeen)
	if err != nil {
		return 0, fmt.Errorf("reading max version: %w", err)
	}
	if !exists {
		return 0, ErrNotFound
	}
	return maxSeen, nil
}

func (s *PostgresStore) InsertVersionAndAdvance(ctx context.Context, v *Version) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO versions (id, document_id, version_number, content, change_note, author, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.DocumentID, v.VersionNumber, v.Content, v.ChangeNote, v.Author, v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateVersion
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting version: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE documents
		SET content = $2, current_version = $3, updated_at = now()
		WHERE id = $1`,
		v.DocumentID, v.Content, v.VersionNumber)
	if err != nil {
		return fmt.Errorf("advancing document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]*Version, error) {
	if _, err := s.MaxVersionNumber(ctx, documentID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, version_number, content, change_note, author, created_at
		FROM versions
		WHERE document_id = $1
		ORDER BY version_number DESC`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var versions []*Version
	for rows.Next() {
		v := &Version{}
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.Content,
			&v.ChangeNote, &v.Author, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID string, versionNumber int) (*Version, error) {
	v := &Version{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, document_id, version_number, content, change_note, author, created_at
		FROM versions
		WHERE document_id = $1 AND version_number = $2`,
		documentID, versionNumber).Scan(
		&v.ID, &v.DocumentID, &v.VersionNumber, &v.Content,
		&v.ChangeNote, &v.Author, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting version %d of %s: %w", versionNumber, documentID, err)
	}
	return v, nil
}

func (s *PostgresStore) SaveFeedback(ctx context.Context, fb *Feedback) error {
	id := fb.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := fb.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qa_feedback (id, session_id, user_id, question, answer, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, fb.SessionID, fb.UserID, fb.Question, fb.Answer, fb.Rating, fb.Comment, createdAt)
	if err != nil {
		return fmt.Errorf("saving feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) LogActivity(ctx context.Context, a *Activity) error {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var docID *string
	if a.DocumentID != "" {
		docID = &a.DocumentID
	}
	details := a.Details
	if details == nil {
		details = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activities (id, user_id, document_id, action, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, a.UserID, docID, a.Action, details, a.IPAddress, a.UserAgent, createdAt)
	if err != nil {
		return fmt.Errorf("logging activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, userID string, actions []string, limit, offset int) ([]*Activity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, document_id, action, details, ip_address, user_agent, created_at
		FROM activities
		WHERE user_id = $1 AND ($2::text[] IS NULL OR action = ANY($2))
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		userID, actions, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	var out []*Activity
	for rows.Next() {
		a := &Activity{}
		var docID *string
		err := rows.Scan(&a.ID, &a.UserID, &docID, &a.Action, &a.Details,
			&a.IPAddress, &a.UserAgent, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		if docID != nil {
			a.DocumentID = *docID
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// scanDocument scans one document row; embedding is nullable.
func scanDocument(row pgx.Row) (*Document, error) {
	doc := &Document{}
	var embedding *pgvector.Vector
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &doc.Public,
		&doc.Tags, &doc.CurrentVersion, &embedding, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if embedding != nil {
		doc.Embedding = embedding.Slice()
	}
	return doc, nil
}

func collectDocuments(rows pgx.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation reports whether err is a PostgreSQL foreign key
// violation (SQLSTATE 23503), raised when the owning document is gone.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
