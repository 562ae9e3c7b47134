package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/document"
	"github.com/quillhq/quill/internal/log"
)

// MaxQuestionLength bounds user questions and chat messages.
const MaxQuestionLength = 4000

// ChatService is the QA surface the handler drives. Satisfied by
// chat.Manager.
type ChatService interface {
	CreateSession(ownerID string) string
	SubmitTurn(ctx context.Context, sessionID, userMessage string) (*chat.Turn, error)
	CloseSession(sessionID string) bool
	Ask(ctx context.Context, requesterID, question string) (*chat.Turn, error)
	SuggestedQuestions(ctx context.Context, requesterID string) []string
	RecordFeedback(ctx context.Context, fb *document.Feedback) error
}

// QAHandler serves the /api/qa endpoints.
type QAHandler struct {
	service    ChatService
	activities ActivityStore
	logger     log.Logger
}

func NewQAHandler(service ChatService, activities ActivityStore, logger log.Logger) *QAHandler {
	return &QAHandler{service: service, activities: activities, logger: logger}
}

func (h *QAHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/qa/ask", h.ask)
	mux.HandleFunc("POST /api/qa/chat", h.createSession)
	mux.HandleFunc("POST /api/qa/chat/{id}", h.submitTurn)
	mux.HandleFunc("DELETE /api/qa/chat/{id}", h.closeSession)
	mux.HandleFunc("GET /api/qa/history", h.history)
	mux.HandleFunc("GET /api/qa/suggested-questions", h.suggestedQuestions)
	mux.HandleFunc("POST /api/qa/feedback", h.feedback)
}

type askRequest struct {
	Question string `json:"question"`
}

func (h *QAHandler) ask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Question) > MaxQuestionLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "question too long")
		return
	}

	turn, err := h.service.Ask(r.Context(), userID, req.Question)
	if err != nil {
		h.logger.Error("answering question", "error", err)
		writeDomainError(w, err)
		return
	}
	recordActivity(h.activities, h.logger, r, userID, "", document.ActionAskQuestion,
		map[string]string{"question": req.Question})
	writeJSON(w, http.StatusOK, turn)
}

func (h *QAHandler) createSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	sessionID := h.service.CreateSession(userID)
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID})
}

type turnRequest struct {
	Message string `json:"message"`
}

func (h *QAHandler) submitTurn(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Message) > MaxQuestionLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "message too long")
		return
	}

	turn, err := h.service.SubmitTurn(r.Context(), r.PathValue("id"), req.Message)
	if err != nil {
		h.logger.Error("submitting turn", "session_id", r.PathValue("id"), "error", err)
		writeDomainError(w, err)
		return
	}
	recordActivity(h.activities, h.logger, r, userID, "", document.ActionChatMessage,
		map[string]string{"session_id": r.PathValue("id"), "question": req.Message})
	writeJSON(w, http.StatusOK, turn)
}

func (h *QAHandler) closeSession(w http.ResponseWriter, r *http.Request) {
	if !h.service.CloseSession(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// history returns the requester's question-answering audit trail, newest
// first.
func (h *QAHandler) history(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	entries, err := h.activities.ListActivities(r.Context(), userID, document.QAActions, limit, offset)
	if err != nil {
		h.logger.Error("listing qa history", "error", err)
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []*document.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *QAHandler) suggestedQuestions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	questions := h.service.SuggestedQuestions(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

type feedbackRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

func (h *QAHandler) feedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeError(w, http.StatusBadRequest, "invalid_request", "rating must be between 1 and 5")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	fb := &document.Feedback{
		SessionID: req.SessionID,
		UserID:    userID,
		Question:  req.Question,
		Answer:    req.Answer,
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.service.RecordFeedback(r.Context(), fb); err != nil {
		h.logger.Error("recording feedback", "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}
