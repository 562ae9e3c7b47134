package api

import (
	"context"
	"net"
	"net/http"

	"github.com/quillhq/quill/internal/document"
	"github.com/quillhq/quill/internal/log"
)

// ActivityStore is the audit-trail surface handlers write to and the history
// endpoint reads from. Satisfied by document.Store.
type ActivityStore interface {
	LogActivity(ctx context.Context, a *document.Activity) error
	ListActivities(ctx context.Context, userID string, actions []string, limit, offset int) ([]*document.Activity, error)
}

// recordActivity appends one audit record. Recording is best-effort: a
// failure is logged and never surfaces to the client.
func recordActivity(store ActivityStore, logger log.Logger, r *http.Request, userID, documentID, action string, details map[string]string) {
	a := &document.Activity{
		UserID:     userID,
		DocumentID: documentID,
		Action:     action,
		Details:    details,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
	}
	if err := store.LogActivity(r.Context(), a); err != nil {
		logger.Warn("recording activity", "action", action, "error", err)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
