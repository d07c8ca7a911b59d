package chat

// Transcript is the live, in-memory ordered sequence of turns for the
// current session, plus a transient flag marking that the assistant is
// currently producing the next turn.
//
// A transcript is append-only while a session is active; Replace and Clear
// exist only for the explicit user actions of loading a stored conversation
// and starting a new one. Access is expected to be serialized by the owner
// (the session event loop); the transcript itself does no locking.
type Transcript struct {
	turns      []Turn
	generating bool
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds a turn to the end of the transcript.
func (t *Transcript) Append(turn Turn) {
	t.turns = append(t.turns, turn)
}

// Turns returns a copy of the current turns. Ordering is significant:
// transcript order is conversation order.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// FirstUserText returns the text of the first user turn, or "" if the
// transcript has none yet.
func (t *Transcript) FirstUserText() string {
	for _, turn := range t.turns {
		if turn.Role == RoleUser {
			return turn.Text
		}
	}
	return ""
}

// SetGenerating marks whether the assistant is mid-answer.
func (t *Transcript) SetGenerating(generating bool) {
	t.generating = generating
}

// IsGenerating reports whether the assistant is mid-answer.
func (t *Transcript) IsGenerating() bool {
	return t.generating
}

// Replace swaps the transcript content wholesale, used when loading a
// stored conversation.
func (t *Transcript) Replace(turns []Turn) {
	t.turns = make([]Turn, len(turns))
	copy(t.turns, turns)
	t.generating = false
}

// Clear empties the transcript, used when starting a new conversation.
func (t *Transcript) Clear() {
	t.turns = nil
	t.generating = false
}
