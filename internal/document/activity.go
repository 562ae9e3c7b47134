package document

import "time"

// Activity action names as recorded in the audit trail.
const (
	ActionCreateDocument = "create_document"
	ActionUpdateDocument = "update_document"
	ActionDeleteDocument = "delete_document"
	ActionCreateVersion  = "create_version"
	ActionViewDocument   = "view_document"
	ActionSearch         = "search"
	ActionAskQuestion    = "ask_question"
	ActionChatMessage    = "chat_message"
)

// QAActions selects the question-answering subset of the audit trail, used
// by the history endpoint.
var QAActions = []string{ActionAskQuestion, ActionChatMessage}

// Activity is one audit record: who did what, optionally to which document.
// Recording is best-effort and never fails the operation it describes.
type Activity struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	DocumentID string            `json:"document_id,omitempty"`
	Action     string            `json:"action"`
	Details    map[string]string `json:"details,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
