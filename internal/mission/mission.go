package mission

import "time"

type Status string

const (
	StatusPending     Status = "pending"
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// ValidStatus reports whether s is one of the mission statuses accepted
// by the status-set API.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusFailed, StatusInterrupted:
		return true
	}
	return false
}

// Turn is one role/content pair of the conversation history.
type Turn struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// Mission is one logical conversation bound to a workspace and a
// harness backend. Missions are never physically deleted; an explicit
// delete archives them.
type Mission struct {
	ID            string    `json:"id"`
	Title         string    `json:"title,omitempty"`
	Status        Status    `json:"status"`
	WorkspaceID   string    `json:"workspace_id,omitempty"`
	Harness       string    `json:"harness"`
	Agent         string    `json:"agent,omitempty"`
	ModelOverride string    `json:"model_override,omitempty"`
	History       []Turn    `json:"history,omitempty"`
	Archived      bool      `json:"archived,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AppendTurn appends to the conversation history.
func (m *Mission) AppendTurn(role, content string) {
	m.History = append(m.History, Turn{Role: role, Content: content})
}
