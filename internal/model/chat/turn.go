package chat

import "strings"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole normalizes a caller-supplied role string.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	return role, role.Valid()
}

// Turn is one message of a conversation. Conversations are owned by the caller;
// the server never stores them.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Reply is the assistant turn produced for a chat request together with the
// unmodified model text it was derived from.
type Reply struct {
	Reply        Turn   `json:"reply"`
	RawModelText string `json:"raw_model_text"`
}
