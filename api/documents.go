package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/quillhq/quill/internal/document"
	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/retrieval"
)

// Request validation bounds.
const (
	MaxTitleLength    = 200
	MaxContentLength  = 1 << 20
	MaxTags           = 16
	MaxTagLength      = 50
	DefaultListLimit  = 50
	MaxListLimit      = 500
	MaxListOffset     = 100000
	DefaultSearchSize = 10
	MaxSearchSize     = 50
)

// DocumentWriter covers the write flow: documents, versions, embeddings.
// Satisfied by document.Sequencer.
type DocumentWriter interface {
	CreateDocument(ctx context.Context, title, content, ownerID string, public bool, tags []string) (*document.Document, error)
	CreateVersion(ctx context.Context, documentID, content, changeNote, author string) (*document.Version, error)
	RefreshEmbedding(ctx context.Context, documentID string) error
}

// Searcher ranks documents against a query. Satisfied by retrieval.Pipeline.
type Searcher interface {
	FindRelevant(ctx context.Context, query, requesterID string, limit int, minSimilarity float64) ([]retrieval.Match, error)
}

// DocumentHandler serves the /api/documents endpoints.
type DocumentHandler struct {
	store         document.Store
	writer        DocumentWriter
	searcher      Searcher
	minSimilarity float64
	logger        log.Logger
}

func NewDocumentHandler(store document.Store, writer DocumentWriter, searcher Searcher, minSimilarity float64, logger log.Logger) *DocumentHandler {
	return &DocumentHandler{
		store:         store,
		writer:        writer,
		searcher:      searcher,
		minSimilarity: minSimilarity,
		logger:        logger,
	}
}

func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/documents", h.list)
	mux.HandleFunc("POST /api/documents", h.create)
	mux.HandleFunc("GET /api/documents/search", h.search)
	mux.HandleFunc("GET /api/documents/{id}", h.get)
	mux.HandleFunc("PUT /api/documents/{id}", h.update)
	mux.HandleFunc("DELETE /api/documents/{id}", h.delete)
	mux.HandleFunc("GET /api/documents/{id}/versions", h.listVersions)
	mux.HandleFunc("POST /api/documents/{id}/versions", h.createVersion)
	mux.HandleFunc("GET /api/documents/{id}/versions/{number}", h.getVersion)
	mux.HandleFunc("POST /api/documents/{id}/embed", h.embed)
}

type createDocumentRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Public  bool     `json:"public"`
	Tags    []string `json:"tags"`
}

func (h *DocumentHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if msg := validateDocumentFields(req.Title, req.Content, req.Tags); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	doc, err := h.writer.CreateDocument(r.Context(), req.Title, req.Content, userID, req.Public, req.Tags)
	if err != nil {
		h.logger.Error("creating document", "error", err)
		writeDomainError(w, err)
		return
	}
	recordActivity(h.store, h.logger, r, userID, doc.ID, document.ActionCreateDocument,
		map[string]string{"title": doc.Title, "public": strconv.FormatBool(doc.Public)})
	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) list(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	docs, err := h.store.ListVisible(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("listing documents", "error", err)
		writeDomainError(w, err)
		return
	}
	total, err := h.store.CountVisible(r.Context(), userID)
	if err != nil {
		h.logger.Error("counting documents", "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *DocumentHandler) get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.visibleDocument(w, r)
	if !ok {
		return
	}
	if userID := requesterID(r); userID != "" {
		recordActivity(h.store, h.logger, r, userID, doc.ID, document.ActionViewDocument, nil)
	}
	writeJSON(w, http.StatusOK, doc)
}

type updateDocumentRequest struct {
	Title  *string   `json:"title"`
	Public *bool     `json:"public"`
	Tags   *[]string `json:"tags"`
}

// update changes document metadata. Content changes go through versions.
func (h *DocumentHandler) update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	doc, ok := h.ownedDocument(w, r, userID)
	if !ok {
		return
	}

	var req updateDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" || len(*req.Title) > MaxTitleLength {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid title")
			return
		}
		doc.Title = *req.Title
	}
	if req.Public != nil {
		doc.Public = *req.Public
	}
	if req.Tags != nil {
		if msg := validateTags(*req.Tags); msg != "" {
			writeError(w, http.StatusBadRequest, "invalid_request", msg)
			return
		}
		doc.Tags = *req.Tags
	}

	if err := h.store.UpdateDocument(r.Context(), doc); err != nil {
		h.logger.Error("updating document", "document_id", doc.ID, "error", err)
		writeDomainError(w, err)
		return
	}
	recordActivity(h.store, h.logger, r, userID, doc.ID, document.ActionUpdateDocument,
		map[string]string{"title": doc.Title})
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	doc, ok := h.ownedDocument(w, r, userID)
	if !ok {
		return
	}

	if err := h.store.DeleteDocument(r.Context(), doc.ID); err != nil {
		h.logger.Error("deleting document", "document_id", doc.ID, "error", err)
		writeDomainError(w, err)
		return
	}
	recordActivity(h.store, h.logger, r, userID, doc.ID, document.ActionDeleteDocument,
		map[string]string{"title": doc.Title})
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "the q parameter is required")
		return
	}
	limit := parseIntParam(r, "limit", DefaultSearchSize, 1, MaxSearchSize)

	matches, err := h.searcher.FindRelevant(r.Context(), query, requesterID(r), limit, h.minSimilarity)
	if err != nil {
		h.logger.Error("searching documents", "error", err)
		writeDomainError(w, err)
		return
	}
	if matches == nil {
		matches = []retrieval.Match{}
	}
	if userID := requesterID(r); userID != "" {
		recordActivity(h.store, h.logger, r, userID, "", document.ActionSearch,
			map[string]string{"query": query})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": matches, "query": query})
}

type createVersionRequest struct {
	Content    string `json:"content"`
	ChangeNote string `json:"change_note"`
}

func (h *DocumentHandler) createVersion(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	doc, ok := h.visibleDocument(w, r)
	if !ok {
		return
	}

	var req createVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Content) > MaxContentLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "content too large")
		return
	}

	version, err := h.writer.CreateVersion(r.Context(), doc.ID, req.Content, req.ChangeNote, userID)
	if err != nil {
		if !errors.Is(err, document.ErrEmptyContent) {
			h.logger.Error("creating version", "document_id", doc.ID, "error", err)
		}
		writeDomainError(w, err)
		return
	}
	recordActivity(h.store, h.logger, r, userID, doc.ID, document.ActionCreateVersion,
		map[string]string{"version": strconv.Itoa(version.VersionNumber)})
	writeJSON(w, http.StatusCreated, version)
}

func (h *DocumentHandler) listVersions(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.visibleDocument(w, r)
	if !ok {
		return
	}

	versions, err := h.store.ListVersions(r.Context(), doc.ID)
	if err != nil {
		h.logger.Error("listing versions", "document_id", doc.ID, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions, "total": len(versions)})
}

func (h *DocumentHandler) getVersion(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.visibleDocument(w, r)
	if !ok {
		return
	}
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number < 1 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid version number")
		return
	}

	version, err := h.store.GetVersion(r.Context(), doc.ID, number)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *DocumentHandler) embed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	doc, ok := h.ownedDocument(w, r, userID)
	if !ok {
		return
	}

	if err := h.writer.RefreshEmbedding(r.Context(), doc.ID); err != nil {
		h.logger.Error("refreshing embedding", "document_id", doc.ID, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "embedded"})
}

// visibleDocument loads the path document and enforces visibility. Hidden
// documents read as missing so existence is not leaked.
func (h *DocumentHandler) visibleDocument(w http.ResponseWriter, r *http.Request) (*document.Document, bool) {
	doc, err := h.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if !doc.Visible(requesterID(r)) {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return nil, false
	}
	return doc, true
}

// ownedDocument loads the path document and enforces ownership.
func (h *DocumentHandler) ownedDocument(w http.ResponseWriter, r *http.Request, userID string) (*document.Document, bool) {
	doc, err := h.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if !doc.Visible(userID) {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return nil, false
	}
	if doc.OwnerID != userID {
		writeError(w, http.StatusForbidden, "forbidden", "only the owner may modify this document")
		return nil, false
	}
	return doc, true
}

func validateDocumentFields(title, content string, tags []string) string {
	if strings.TrimSpace(title) == "" {
		return "title is required"
	}
	if len(title) > MaxTitleLength {
		return "title too long"
	}
	if len(content) > MaxContentLength {
		return "content too large"
	}
	return validateTags(tags)
}

func validateTags(tags []string) string {
	if len(tags) > MaxTags {
		return "too many tags"
	}
	for _, tag := range tags {
		if tag == "" || len(tag) > MaxTagLength {
			return "invalid tag"
		}
	}
	return ""
}

// parseIntParam parses an integer query parameter with bounds clamping.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
