package store

import "github.com/papertalk/papertalk/chat"

// Conversation is the persisted, named, owned copy of a transcript plus
// metadata. UID is the opaque identifier assigned at creation time; callers
// never invent it. Turns is replaced wholesale on update, never patched.
type Conversation struct {
	UID       string
	CreatorID int32
	Title     string
	Turns     []chat.Turn
	CreatedTs int64
	UpdatedTs int64
}

type FindConversation struct {
	UID       *string
	CreatorID *int32
	Limit     *int
}

type UpdateConversation struct {
	UID       string
	Title     *string
	Turns     *[]chat.Turn
	UpdatedTs *int64
}

type DeleteConversation struct {
	UID string
}
