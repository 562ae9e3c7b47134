package document

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	doc := NewDocument("Guide", "how things work", "alice", true, []string{"docs"})
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Guide" || !got.Public {
		t.Errorf("unexpected document: %+v", got)
	}

	// Returned copies must not alias store state.
	got.Title = "mutated"
	again, _ := store.GetDocument(ctx, doc.ID)
	if again.Title != "Guide" {
		t.Error("store state was mutated through a returned copy")
	}

	got.Title = "Guide v2"
	got.Tags = []string{"docs", "updated"}
	if err := store.UpdateDocument(ctx, got); err != nil {
		t.Fatal(err)
	}
	again, _ = store.GetDocument(ctx, doc.ID)
	if again.Title != "Guide v2" || len(again.Tags) != 2 {
		t.Errorf("update not applied: %+v", again)
	}

	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetDocument(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound after delete", err)
	}
	if err := store.DeleteDocument(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound on double delete", err)
	}
}

func TestMemoryStore_DeleteCascadesVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	doc := NewDocument("Guide", "content", "alice", false, nil)
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	v := &Version{DocumentID: doc.ID, VersionNumber: 1, Content: "content", CreatedAt: time.Now()}
	if err := store.InsertVersionAndAdvance(ctx, v); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ListVersions(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for versions of deleted document", err)
	}
}

func TestMemoryStore_Visibility(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	private := NewDocument("Private", "secret", "alice", false, nil)
	public := NewDocument("Public", "open", "alice", true, nil)
	other := NewDocument("Other", "theirs", "bob", false, nil)
	for _, d := range []*Document{private, public, other} {
		if err := store.CreateDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := store.ListVisible(ctx, "alice", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("alice sees %d documents, want 2", len(docs))
	}
	for _, d := range docs {
		if d.Title == "Other" {
			t.Error("alice must not see bob's private document")
		}
	}

	docs, _ = store.ListVisible(ctx, "carol", 10, 0)
	if len(docs) != 1 || docs[0].Title != "Public" {
		t.Errorf("carol should see only the public document, got %d", len(docs))
	}

	n, err := store.CountVisible(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountVisible = %d, want 2", n)
	}
}

func TestMemoryStore_MaxVersionNumber(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.MaxVersionNumber(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}

	doc := NewDocument("Doc", "content", "alice", false, nil)
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	max, err := store.MaxVersionNumber(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if max != 0 {
		t.Errorf("max = %d for document without versions, want 0", max)
	}

	for n := 1; n <= 3; n++ {
		v := &Version{DocumentID: doc.ID, VersionNumber: n, Content: "c", CreatedAt: time.Now()}
		if err := store.InsertVersionAndAdvance(ctx, v); err != nil {
			t.Fatal(err)
		}
	}
	max, _ = store.MaxVersionNumber(ctx, doc.ID)
	if max != 3 {
		t.Errorf("max = %d, want 3", max)
	}
}

func TestMemoryStore_DuplicateVersionRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	doc := NewDocument("Doc", "content", "alice", false, nil)
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	v := &Version{DocumentID: doc.ID, VersionNumber: 1, Content: "first", CreatedAt: time.Now()}
	if err := store.InsertVersionAndAdvance(ctx, v); err != nil {
		t.Fatal(err)
	}

	dup := &Version{DocumentID: doc.ID, VersionNumber: 1, Content: "second", CreatedAt: time.Now()}
	if err := store.InsertVersionAndAdvance(ctx, dup); !errors.Is(err, ErrDuplicateVersion) {
		t.Errorf("got %v, want ErrDuplicateVersion", err)
	}

	// The rejected insert must not have advanced the document.
	got, _ := store.GetDocument(ctx, doc.ID)
	if got.CurrentVersion != 1 || got.Content != "first" {
		t.Errorf("document advanced by failed insert: current=%d content=%q", got.CurrentVersion, got.Content)
	}

	orphan := &Version{DocumentID: "missing", VersionNumber: 1, Content: "c", CreatedAt: time.Now()}
	if err := store.InsertVersionAndAdvance(ctx, orphan); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for unknown document", err)
	}
}

func TestMemoryStore_SearchKeyword(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	seed := []struct {
		title, content string
		public         bool
	}{
		{"Go deployment", "deploy services written in go", true},
		{"Cooking", "recipes for pasta", true},
		{"Go internals", "go go go runtime scheduler", true},
		{"Secret go notes", "go tricks", false},
	}
	for _, s := range seed {
		d := NewDocument(s.title, s.content, "alice", s.public, nil)
		if err := store.CreateDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := store.SearchKeyword(ctx, "bob", "go", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d results, want 2 visible go documents", len(docs))
	}
	// Title matches weigh double, and "Go internals" also repeats the term.
	if docs[0].Title != "Go internals" {
		t.Errorf("top result = %q, want %q", docs[0].Title, "Go internals")
	}
	for _, d := range docs {
		if d.Title == "Secret go notes" {
			t.Error("private document leaked into another user's search")
		}
	}

	docs, _ = store.SearchKeyword(ctx, "bob", "go", 1)
	if len(docs) != 1 {
		t.Errorf("limit not applied: got %d results", len(docs))
	}

	docs, _ = store.SearchKeyword(ctx, "bob", "quaternion", 10)
	if len(docs) != 0 {
		t.Errorf("expected no results, got %d", len(docs))
	}
}

func TestMemoryStore_SetEmbedding(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	doc := NewDocument("Doc", "content", "alice", false, nil)
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	if err := store.SetEmbedding(ctx, doc.ID, []float32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetDocument(ctx, doc.ID)
	if len(got.Embedding) != 3 {
		t.Errorf("embedding length = %d, want 3", len(got.Embedding))
	}

	if err := store.SetEmbedding(ctx, "missing", []float32{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Feedback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	fb := &Feedback{
		SessionID: "sess-1",
		UserID:    "alice",
		Question:  "what is this",
		Answer:    "a document store",
		Rating:    5,
		CreatedAt: time.Now(),
	}
	if err := store.SaveFeedback(ctx, fb); err != nil {
		t.Fatal(err)
	}
	got := store.Feedback()
	if len(got) != 1 || got[0].Rating != 5 {
		t.Fatalf("stored feedback wrong: %+v", got)
	}
	if got[0].ID == "" {
		t.Error("stored feedback should have an ID")
	}
}

func TestMemoryStore_Activities(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Now().UTC()
	records := []*Activity{
		{UserID: "alice", Action: ActionCreateDocument, DocumentID: "d1", CreatedAt: base},
		{UserID: "alice", Action: ActionAskQuestion, Details: map[string]string{"question": "first?"}, CreatedAt: base.Add(time.Second)},
		{UserID: "alice", Action: ActionChatMessage, Details: map[string]string{"question": "second?"}, CreatedAt: base.Add(2 * time.Second)},
		{UserID: "bob", Action: ActionAskQuestion, CreatedAt: base.Add(3 * time.Second)},
	}
	for _, a := range records {
		if err := store.LogActivity(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListActivities(ctx, "alice", nil, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d activities, want 3", len(all))
	}
	if all[0].Action != ActionChatMessage {
		t.Errorf("newest first: got %s", all[0].Action)
	}
	if all[0].ID == "" {
		t.Error("stored activity should have an ID")
	}

	qa, err := store.ListActivities(ctx, "alice", QAActions, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(qa) != 2 {
		t.Fatalf("got %d qa activities, want 2", len(qa))
	}
	for _, a := range qa {
		if a.Action == ActionCreateDocument {
			t.Errorf("document activity leaked into qa filter: %+v", a)
		}
	}

	page, err := store.ListActivities(ctx, "alice", nil, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].Action != ActionAskQuestion {
		t.Errorf("pagination wrong: %+v", page)
	}
}
