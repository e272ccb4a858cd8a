package domain

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a session's conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Seq     int64  `json:"seq"` // Insertion order within the session
}
