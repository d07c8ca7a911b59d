package chat

// Role identifies who produced a turn. It is a closed set: every turn in a
// transcript is either a question from the user or an answer from the
// assistant.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is a single entry in a conversation. Sources lists the document
// filenames an assistant answer was grounded on; it is empty for user turns.
// Turns are immutable once appended to a transcript.
type Turn struct {
	Role    Role     `json:"role"`
	Text    string   `json:"text"`
	Sources []string `json:"sources,omitempty"`
}

// UserTurn builds a user turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// AssistantTurn builds an assistant turn with its cited sources.
func AssistantTurn(text string, sources []string) Turn {
	return Turn{Role: RoleAssistant, Text: text, Sources: sources}
}
