package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/goleak"

	"github.com/quillhq/quill/internal/document"
	"github.com/quillhq/quill/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockRetriever struct {
	docs      []*document.Document
	err       error
	recent    []*document.Document
	recentErr error
	lastQuery string
}

func (m *mockRetriever) GroundingDocuments(_ context.Context, query, _ string, _ int) ([]*document.Document, error) {
	m.lastQuery = query
	return m.docs, m.err
}

func (m *mockRetriever) RecentDocuments(context.Context, string, int) ([]*document.Document, error) {
	return m.recent, m.recentErr
}

type mockGenerator struct {
	mu          sync.Mutex
	answer      string
	err         error
	calls       int
	lastSystem  string
	lastHistory []Message
}

func (m *mockGenerator) Generate(_ context.Context, system string, history []Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastSystem = system
	m.lastHistory = append([]Message(nil), history...)
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func groundingDoc(id, title, content string) *document.Document {
	return &document.Document{ID: id, Title: title, Content: content}
}

func TestSubmitTurn_UnknownSession(t *testing.T) {
	m := NewManager(&mockRetriever{}, &mockGenerator{}, log.NewNop())
	_, err := m.SubmitTurn(context.Background(), "no-such-session", "hello")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}

func TestSubmitTurn_EmptyMessage(t *testing.T) {
	m := NewManager(&mockRetriever{}, &mockGenerator{}, log.NewNop())
	id := m.CreateSession("alice")
	if _, err := m.SubmitTurn(context.Background(), id, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("got %v, want ErrEmptyMessage", err)
	}
}

func TestSubmitTurn_GroundedAnswer(t *testing.T) {
	retriever := &mockRetriever{docs: []*document.Document{
		groundingDoc("d1", "Deploy Guide", "run the deploy script"),
		groundingDoc("d2", "Oncall", strings.Repeat("x", 600)),
	}}
	gen := &mockGenerator{answer: "Use the deploy script."}
	m := NewManager(retriever, gen, log.NewNop())

	id := m.CreateSession("alice")
	turn, err := m.SubmitTurn(context.Background(), id, "how do I deploy?")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Answer != "Use the deploy script." {
		t.Errorf("answer = %q", turn.Answer)
	}
	if retriever.lastQuery != "how do I deploy?" {
		t.Errorf("grounding query = %q", retriever.lastQuery)
	}

	if len(turn.Citations) != 2 {
		t.Fatalf("got %d citations, want 2", len(turn.Citations))
	}
	if turn.Citations[0].DocumentID != "d1" || turn.Citations[0].Snippet != "run the deploy script" {
		t.Errorf("citation wrong: %+v", turn.Citations[0])
	}
	if len(turn.Citations[1].Snippet) != 150+len("...") {
		t.Errorf("long citation snippet length = %d", len(turn.Citations[1].Snippet))
	}

	if !strings.Contains(gen.lastSystem, "Document: Deploy Guide\nrun the deploy script") {
		t.Errorf("system instruction missing grounding block:\n%s", gen.lastSystem)
	}
	// Long content is truncated to 500 characters plus an ellipsis.
	if !strings.Contains(gen.lastSystem, strings.Repeat("x", 500)+"...") {
		t.Error("long grounding content not truncated")
	}
	if strings.Contains(gen.lastSystem, strings.Repeat("x", 501)) {
		t.Error("grounding content exceeds truncation length")
	}

	history, err := m.History(id)
	if err != nil {
		t.Fatal(err)
	}
	want := []Message{
		{Role: RoleUser, Content: "how do I deploy?"},
		{Role: RoleModel, Content: "Use the deploy script."},
	}
	if len(history) != 2 || history[0] != want[0] || history[1] != want[1] {
		t.Errorf("history = %+v", history)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// "日" is 3 bytes; a 500-byte cut through repeated "日" would land
	// mid-rune without boundary handling.
	multibyte := strings.Repeat("日", 200)

	retriever := &mockRetriever{docs: []*document.Document{
		groundingDoc("d1", "Kanji", multibyte),
	}}
	gen := &mockGenerator{answer: "ok"}
	m := NewManager(retriever, gen, log.NewNop())

	id := m.CreateSession("alice")
	turn, err := m.SubmitTurn(context.Background(), id, "what does it say?")
	if err != nil {
		t.Fatal(err)
	}

	snippet := turn.Citations[0].Snippet
	if !utf8.ValidString(snippet) {
		t.Errorf("citation snippet is not valid UTF-8: %q", snippet)
	}
	if !strings.HasSuffix(snippet, "日...") {
		t.Errorf("snippet does not end on a rune boundary: %q", snippet)
	}
	if !utf8.ValidString(gen.lastSystem) {
		t.Error("grounding block is not valid UTF-8")
	}

	for _, tc := range []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hell..."},
		{"日本語", 9, "日本語"},
		{"日本語", 4, "日..."},
		{"日本語", 2, "..."},
	} {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestSubmitTurn_HistoryBounded(t *testing.T) {
	gen := &mockGenerator{answer: "ok"}
	m := NewManager(&mockRetriever{}, gen, log.NewNop())

	id := m.CreateSession("alice")
	for i := 0; i < 8; i++ {
		if _, err := m.SubmitTurn(context.Background(), id, fmt.Sprintf("question %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	history, _ := m.History(id)
	if len(history) != 10 {
		t.Fatalf("history length = %d, want 10", len(history))
	}
	// Oldest messages evicted first: the window starts mid-conversation.
	if history[0].Content != "question 3" {
		t.Errorf("oldest retained message = %q, want %q", history[0].Content, "question 3")
	}
	if history[9].Content != "ok" || history[9].Role != RoleModel {
		t.Errorf("newest message = %+v", history[9])
	}
}

func TestSubmitTurn_GenerationFailureRollsBack(t *testing.T) {
	gen := &mockGenerator{answer: "fine"}
	m := NewManager(&mockRetriever{}, gen, log.NewNop())

	id := m.CreateSession("alice")
	if _, err := m.SubmitTurn(context.Background(), id, "first"); err != nil {
		t.Fatal(err)
	}
	before, _ := m.History(id)

	gen.mu.Lock()
	gen.err = errors.New("provider overloaded")
	gen.mu.Unlock()

	_, err := m.SubmitTurn(context.Background(), id, "second")
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("got %v, want ErrGeneration", err)
	}

	after, _ := m.History(id)
	if len(after) != len(before) {
		t.Errorf("history changed by failed turn: before %d, after %d", len(before), len(after))
	}

	// The session keeps working once the provider recovers.
	gen.mu.Lock()
	gen.err = nil
	gen.mu.Unlock()
	if _, err := m.SubmitTurn(context.Background(), id, "second again"); err != nil {
		t.Fatalf("session unusable after failed turn: %v", err)
	}
}

func TestSubmitTurn_RetrievalFailureStillAnswers(t *testing.T) {
	retriever := &mockRetriever{err: errors.New("store down")}
	gen := &mockGenerator{answer: "answering from memory"}
	m := NewManager(retriever, gen, log.NewNop())

	id := m.CreateSession("alice")
	turn, err := m.SubmitTurn(context.Background(), id, "anything?")
	if err != nil {
		t.Fatalf("retrieval failure must not fail the turn: %v", err)
	}
	if len(turn.Citations) != 0 {
		t.Errorf("expected no citations, got %d", len(turn.Citations))
	}
	if strings.Contains(gen.lastSystem, "Relevant documents") {
		t.Error("system instruction should omit the documents block when ungrounded")
	}
}

func TestSubmitTurn_SessionClosedMidTurn(t *testing.T) {
	m := NewManager(&mockRetriever{}, &mockGenerator{answer: "ok"}, log.NewNop())
	id := m.CreateSession("alice")

	// Simulate a concurrent close landing between the provider call and the
	// history append by closing before the turn completes its re-check.
	closing := &closingGenerator{manager: m, sessionID: id}
	m.generator = closing

	_, err := m.SubmitTurn(context.Background(), id, "hello")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound for session closed mid-turn", err)
	}
}

// closingGenerator closes the session during the provider call.
type closingGenerator struct {
	manager   *Manager
	sessionID string
}

func (c *closingGenerator) Generate(context.Context, string, []Message) (string, error) {
	c.manager.CloseSession(c.sessionID)
	return "too late", nil
}

func TestCreateAndCloseSession(t *testing.T) {
	m := NewManager(&mockRetriever{}, &mockGenerator{}, log.NewNop())

	a := m.CreateSession("alice")
	b := m.CreateSession("bob")
	if a == b {
		t.Error("session IDs must be unique")
	}
	if m.SessionCount() != 2 {
		t.Errorf("SessionCount = %d, want 2", m.SessionCount())
	}

	if !m.CloseSession(a) {
		t.Error("closing an open session should report true")
	}
	if m.CloseSession(a) {
		t.Error("closing twice should report false")
	}
	if m.SessionCount() != 1 {
		t.Errorf("SessionCount = %d, want 1", m.SessionCount())
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	gen := &mockGenerator{answer: "ok"}
	m := NewManager(&mockRetriever{}, gen, log.NewNop())

	a := m.CreateSession("alice")
	b := m.CreateSession("bob")
	if _, err := m.SubmitTurn(context.Background(), a, "alice asks"); err != nil {
		t.Fatal(err)
	}

	historyB, _ := m.History(b)
	if len(historyB) != 0 {
		t.Errorf("bob's session has %d messages, want 0", len(historyB))
	}
}

func TestAsk_OneShot(t *testing.T) {
	retriever := &mockRetriever{docs: []*document.Document{groundingDoc("d1", "FAQ", "answers live here")}}
	gen := &mockGenerator{answer: "see the FAQ"}
	m := NewManager(retriever, gen, log.NewNop())

	turn, err := m.Ask(context.Background(), "alice", "where are the answers?")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Answer != "see the FAQ" || len(turn.Citations) != 1 {
		t.Errorf("turn = %+v", turn)
	}
	if m.SessionCount() != 0 {
		t.Error("one-shot ask must not create a session")
	}
	if len(gen.lastHistory) != 1 || gen.lastHistory[0].Role != RoleUser {
		t.Errorf("one-shot history = %+v", gen.lastHistory)
	}

	if _, err := m.Ask(context.Background(), "alice", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("got %v, want ErrEmptyMessage", err)
	}
}

func TestSuggestedQuestions(t *testing.T) {
	retriever := &mockRetriever{recent: []*document.Document{
		groundingDoc("d1", "Deploy Guide", ""),
		groundingDoc("d2", "Oncall Handbook", ""),
	}}
	m := NewManager(retriever, &mockGenerator{}, log.NewNop())

	questions := m.SuggestedQuestions(context.Background(), "alice")
	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	if !strings.Contains(questions[0], "Deploy Guide") {
		t.Errorf("question %q does not reference the document", questions[0])
	}

	empty := NewManager(&mockRetriever{}, &mockGenerator{}, log.NewNop())
	if qs := empty.SuggestedQuestions(context.Background(), "carol"); len(qs) == 0 {
		t.Error("expected generic fallback questions")
	}
}

func TestRecordFeedback(t *testing.T) {
	store := document.NewMemoryStore()
	m := NewManager(&mockRetriever{}, &mockGenerator{}, log.NewNop(), WithFeedbackSaver(store))

	fb := &document.Feedback{SessionID: "s1", UserID: "alice", Question: "q", Answer: "a", Rating: 4}
	if err := m.RecordFeedback(context.Background(), fb); err != nil {
		t.Fatal(err)
	}
	if got := store.Feedback(); len(got) != 1 || got[0].Rating != 4 {
		t.Errorf("stored feedback = %+v", got)
	}

	unconfigured := NewManager(&mockRetriever{}, &mockGenerator{}, log.NewNop())
	if err := unconfigured.RecordFeedback(context.Background(), fb); err == nil {
		t.Error("expected error when no saver is configured")
	}
}

func TestSweeper_RemovesIdleSessions(t *testing.T) {
	m := NewManager(&mockRetriever{}, &mockGenerator{answer: "ok"}, log.NewNop())

	idle := m.CreateSession("alice")
	fresh := m.CreateSession("bob")

	// Age the idle session past the cutoff.
	m.mu.Lock()
	m.sessions[idle].lastActive = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	m.StartSweeper(ctx, 5*time.Millisecond, 30*time.Minute)

	deadline := time.After(time.Second)
	for m.SessionCount() != 1 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("sweeper did not remove the idle session, count = %d", m.SessionCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if _, err := m.History(fresh); err != nil {
		t.Errorf("fresh session swept: %v", err)
	}
	if _, err := m.History(idle); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("idle session still present: %v", err)
	}
}
