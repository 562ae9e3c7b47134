// Package chat manages retrieval-grounded question answering: one-shot asks
// and multi-turn sessions whose answers are grounded in the requester's
// documents.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/document"
	"github.com/quillhq/quill/internal/log"
)

var (
	// ErrSessionNotFound reports an unknown or closed session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrGeneration reports a failed provider call. The session history is
	// left as it was before the turn.
	ErrGeneration = errors.New("answer generation failed")
	// ErrEmptyMessage reports a blank user message.
	ErrEmptyMessage = errors.New("message must not be empty")
)

// Message roles follow the provider's conversation format.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one entry in a session's running history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Citation points an answer back at a grounding document.
type Citation struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
}

// Turn is the result of one answered question.
type Turn struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// Generator produces an answer from a system instruction and a conversation
// history. Satisfied by gemini.Client.
type Generator interface {
	Generate(ctx context.Context, systemInstruction string, history []Message) (string, error)
}

// Retriever supplies grounding material. Satisfied by retrieval.Pipeline.
type Retriever interface {
	GroundingDocuments(ctx context.Context, query, requesterID string, limit int) ([]*document.Document, error)
	RecentDocuments(ctx context.Context, requesterID string, limit int) ([]*document.Document, error)
}

// FeedbackSaver persists answer feedback. Satisfied by document stores.
type FeedbackSaver interface {
	SaveFeedback(ctx context.Context, fb *document.Feedback) error
}

const systemPrompt = "You are a helpful assistant that answers questions using the provided documents. " +
	"Answer from the documents when they are relevant; say so when they are not. Be concise."

type sessionState int

const (
	stateCreated sessionState = iota
	stateActive
)

type session struct {
	id         string
	ownerID    string
	state      sessionState
	messages   []Message
	lastActive time.Time
}

// Manager owns the session table and runs the ask/answer flow. All methods
// are safe for concurrent use.
type Manager struct {
	retriever Retriever
	generator Generator
	feedback  FeedbackSaver
	logger    log.Logger

	historyLimit   int
	groundingLimit int
	contextLength  int
	citationLength int

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistoryLimit bounds the per-session message history.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historyLimit = n
		}
	}
}

// WithGroundingLimit caps how many documents ground each answer.
func WithGroundingLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.groundingLimit = n
		}
	}
}

// WithSnippetLengths sets the grounding-context and citation truncation
// lengths.
func WithSnippetLengths(contextLen, citationLen int) Option {
	return func(m *Manager) {
		if contextLen > 0 {
			m.contextLength = contextLen
		}
		if citationLen > 0 {
			m.citationLength = citationLen
		}
	}
}

// WithFeedbackSaver enables RecordFeedback persistence.
func WithFeedbackSaver(fs FeedbackSaver) Option {
	return func(m *Manager) { m.feedback = fs }
}

func NewManager(retriever Retriever, generator Generator, logger log.Logger, opts ...Option) *Manager {
	m := &Manager{
		retriever:      retriever,
		generator:      generator,
		logger:         logger.With("component", "chat"),
		historyLimit:   10,
		groundingLimit: 3,
		contextLength:  500,
		citationLength: 150,
		sessions:       make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession registers a new conversation for ownerID and returns its ID.
func (m *Manager) CreateSession(ownerID string) string {
	s := &session{
		id:         uuid.NewString(),
		ownerID:    ownerID,
		state:      stateCreated,
		lastActive: time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Debug("session created", "session_id", s.id)
	return s.id
}

// CloseSession removes a session. Returns false for unknown IDs.
func (m *Manager) CloseSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	delete(m.sessions, sessionID)
	return true
}

// History returns a copy of a session's message history.
func (m *Manager) History(sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	history := make([]Message, len(s.messages))
	copy(history, s.messages)
	return history, nil
}

// SessionCount returns the number of open sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SubmitTurn answers userMessage within a session. On success the user
// message and the answer are appended to the history, which is then trimmed
// to the oldest-out history bound. On generation failure the history is
// unchanged and the error wraps ErrGeneration.
func (m *Manager) SubmitTurn(ctx context.Context, sessionID, userMessage string) (*Turn, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, ErrEmptyMessage
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	ownerID := s.ownerID
	history := make([]Message, len(s.messages))
	copy(history, s.messages)
	m.mu.Unlock()

	docs := m.grounding(ctx, userMessage, ownerID)
	history = append(history, Message{Role: RoleUser, Content: userMessage})

	answer, err := m.generator.Generate(ctx, m.systemInstruction(docs), history)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	m.mu.Lock()
	if s, ok = m.sessions[sessionID]; !ok {
		// Closed while the provider call was in flight.
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	s.state = stateActive
	s.messages = append(s.messages,
		Message{Role: RoleUser, Content: userMessage},
		Message{Role: RoleModel, Content: answer})
	if overflow := len(s.messages) - m.historyLimit; overflow > 0 {
		s.messages = s.messages[overflow:]
	}
	s.lastActive = time.Now()
	m.mu.Unlock()

	return &Turn{Answer: answer, Citations: m.citations(docs)}, nil
}

// Ask answers a one-shot question with no session state.
func (m *Manager) Ask(ctx context.Context, requesterID, question string) (*Turn, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyMessage
	}

	docs := m.grounding(ctx, question, requesterID)
	history := []Message{{Role: RoleUser, Content: question}}

	answer, err := m.generator.Generate(ctx, m.systemInstruction(docs), history)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return &Turn{Answer: answer, Citations: m.citations(docs)}, nil
}

// SuggestedQuestions proposes starter questions from the requester's most
// recently updated documents. Falls back to generic prompts when the
// requester has none.
func (m *Manager) SuggestedQuestions(ctx context.Context, requesterID string) []string {
	docs, err := m.retriever.RecentDocuments(ctx, requesterID, m.groundingLimit)
	if err != nil {
		m.logger.Warn("listing recent documents for suggestions", "error", err)
	}
	if len(docs) == 0 {
		return []string{
			"What documents do I have access to?",
			"Summarize my most recent document.",
		}
	}

	questions := make([]string, 0, len(docs))
	for _, doc := range docs {
		questions = append(questions, fmt.Sprintf("What is %q about?", doc.Title))
	}
	return questions
}

// RecordFeedback persists a rating for an answered question.
func (m *Manager) RecordFeedback(ctx context.Context, fb *document.Feedback) error {
	if m.feedback == nil {
		return errors.New("feedback recording not configured")
	}
	if err := m.feedback.SaveFeedback(ctx, fb); err != nil {
		return fmt.Errorf("saving feedback: %w", err)
	}
	return nil
}

// StartSweeper closes sessions idle longer than maxIdle, checking every
// interval until ctx is cancelled. Callers opt in; sessions are otherwise
// kept until closed explicitly.
func (m *Manager) StartSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(maxIdle)
			}
		}
	}()
}

func (m *Manager) sweep(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.lastActive.Before(cutoff) {
			delete(m.sessions, id)
			m.logger.Debug("idle session swept", "session_id", id)
		}
	}
}

// grounding fetches grounding documents, degrading to none on error.
func (m *Manager) grounding(ctx context.Context, query, requesterID string) []*document.Document {
	docs, err := m.retriever.GroundingDocuments(ctx, query, requesterID, m.groundingLimit)
	if err != nil {
		m.logger.Warn("grounding retrieval failed, answering without documents",
			"requester_id", requesterID, "error", err)
		return nil
	}
	return docs
}

func (m *Manager) systemInstruction(docs []*document.Document) string {
	if len(docs) == 0 {
		return systemPrompt
	}

	blocks := make([]string, len(docs))
	for i, doc := range docs {
		blocks[i] = fmt.Sprintf("Document: %s\n%s", doc.Title, truncate(doc.Content, m.contextLength))
	}
	return systemPrompt + "\n\nRelevant documents:\n\n" + strings.Join(blocks, "\n\n")
}

func (m *Manager) citations(docs []*document.Document) []Citation {
	citations := make([]Citation, len(docs))
	for i, doc := range docs {
		citations[i] = Citation{
			DocumentID: doc.ID,
			Title:      doc.Title,
			Snippet:    truncate(doc.Content, m.citationLength),
		}
	}
	return citations
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
