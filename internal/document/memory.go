package document

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and local development.
//
// It reproduces the persistence contract the Sequencer relies on: the
// duplicate-version check and the document advance happen atomically under
// a per-document lock, so writers to different documents proceed in
// parallel while same-document writers race through the retry loop exactly
// as they would against the postgres unique constraint.
type MemoryStore struct {
	mu         sync.RWMutex
	docs       map[string]*Document
	versions   map[string][]*Version
	feedback   []*Feedback
	activities []*Activity
	docLocks   map[string]*sync.Mutex
	lockGuard  sync.Mutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]*Document),
		versions: make(map[string][]*Version),
		docLocks: make(map[string]*sync.Mutex),
	}
}

// docLock returns the mutex serializing version writes for one document.
func (s *MemoryStore) docLock(id string) *sync.Mutex {
	s.lockGuard.Lock()
	defer s.lockGuard.Unlock()
	l, ok := s.docLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.docLocks[id] = l
	}
	return l
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) UpdateDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.docs[doc.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Title = doc.Title
	stored.Public = doc.Public
	stored.Tags = append([]string(nil), doc.Tags...)
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	delete(s.versions, id)
	return nil
}

func (s *MemoryStore) ListVisible(_ context.Context, requesterID string, limit, offset int) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visible := make([]*Document, 0)
	for _, doc := range s.docs {
		if doc.Visible(requesterID) {
			visible = append(visible, cloneDocument(doc))
		}
	}

	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].UpdatedAt.After(visible[j].UpdatedAt)
	})

	if offset >= len(visible) {
		return []*Document{}, nil
	}
	visible = visible[offset:]
	if limit > 0 && len(visible) > limit {
		visible = visible[:limit]
	}
	return visible, nil
}

func (s *MemoryStore) CountVisible(_ context.Context, requesterID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, doc := range s.docs {
		if doc.Visible(requesterID) {
			count++
		}
	}
	return count, nil
}

// SearchKeyword scores visible documents by term frequency: title matches
// weigh double. Documents with no matching term are excluded.
func (s *MemoryStore) SearchKeyword(_ context.Context, requesterID, query string, limit int) ([]*Document, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return []*Document{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scoredDoc struct {
		doc   *Document
		score int
	}
	var matches []scoredDoc
	for _, doc := range s.docs {
		if !doc.Visible(requesterID) {
			continue
		}
		title := strings.ToLower(doc.Title)
		content := strings.ToLower(doc.Content)
		score := 0
		for _, term := range terms {
			score += 2*strings.Count(title, term) + strings.Count(content, term)
		}
		if score > 0 {
			matches = append(matches, scoredDoc{doc: cloneDocument(doc), score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	docs := make([]*Document, len(matches))
	for i, m := range matches {
		docs[i] = m.doc
	}
	return docs, nil
}

func (s *MemoryStore) SetEmbedding(_ context.Context, id string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Embedding = append([]float32(nil), vector...)
	return nil
}

func (s *MemoryStore) MaxVersionNumber(_ context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.docs[documentID]; !ok {
		return 0, ErrNotFound
	}
	maxSeen := 0
	for _, v := range s.versions[documentID] {
		if v.VersionNumber > maxSeen {
			maxSeen = v.VersionNumber
		}
	}
	return maxSeen, nil
}

func (s *MemoryStore) InsertVersionAndAdvance(_ context.Context, v *Version) error {
	// Serialize same-document inserts; different documents do not contend.
	l := s.docLock(v.DocumentID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[v.DocumentID]
	if !ok {
		return ErrNotFound
	}
	for _, existing := range s.versions[v.DocumentID] {
		if existing.VersionNumber == v.VersionNumber {
			return ErrDuplicateVersion
		}
	}

	stored := *v
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	s.versions[v.DocumentID] = append(s.versions[v.DocumentID], &stored)

	doc.Content = v.Content
	doc.CurrentVersion = v.VersionNumber
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListVersions(_ context.Context, documentID string) ([]*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.docs[documentID]; !ok {
		return nil, ErrNotFound
	}

	versions := make([]*Version, len(s.versions[documentID]))
	for i, v := range s.versions[documentID] {
		c := *v
		versions[i] = &c
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].VersionNumber > versions[j].VersionNumber
	})
	return versions, nil
}

func (s *MemoryStore) GetVersion(_ context.Context, documentID string, versionNumber int) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions[documentID] {
		if v.VersionNumber == versionNumber {
			c := *v
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SaveFeedback(_ context.Context, fb *Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *fb
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.feedback = append(s.feedback, &stored)
	return nil
}

func (s *MemoryStore) LogActivity(_ context.Context, a *Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *a
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if a.Details != nil {
		stored.Details = make(map[string]string, len(a.Details))
		for k, v := range a.Details {
			stored.Details[k] = v
		}
	}
	s.activities = append(s.activities, &stored)
	return nil
}

func (s *MemoryStore) ListActivities(_ context.Context, userID string, actions []string, limit, offset int) ([]*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := func(action string) bool {
		if len(actions) == 0 {
			return true
		}
		for _, a := range actions {
			if a == action {
				return true
			}
		}
		return false
	}

	var matched []*Activity
	for _, a := range s.activities {
		if a.UserID == userID && wanted(a.Action) {
			c := *a
			matched = append(matched, &c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return []*Activity{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Feedback returns a copy of all recorded feedback (test helper).
func (s *MemoryStore) Feedback() []*Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Feedback, len(s.feedback))
	for i, fb := range s.feedback {
		c := *fb
		out[i] = &c
	}
	return out
}

func cloneDocument(doc *Document) *Document {
	c := *doc
	c.Tags = append([]string(nil), doc.Tags...)
	c.Embedding = append([]float32(nil), doc.Embedding...)
	return &c
}
