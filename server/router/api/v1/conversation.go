package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/papertalk/papertalk/chat"
	"github.com/papertalk/papertalk/store"
)

// ConversationResponse is the wire shape of a stored conversation.
type ConversationResponse struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Turns     []chat.Turn `json:"turns"`
	TurnCount int         `json:"turn_count"`
	CreatedTs int64       `json:"created_ts"`
	UpdatedTs int64       `json:"updated_ts"`
}

func toConversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        c.UID,
		Title:     c.Title,
		Turns:     c.Turns,
		TurnCount: len(c.Turns),
		CreatedTs: c.CreatedTs,
		UpdatedTs: c.UpdatedTs,
	}
}

// CreateConversationRequest is the manual-create payload. Turns may be
// empty; an omitted title is derived from the first user turn.
type CreateConversationRequest struct {
	Title string      `json:"title"`
	Turns []chat.Turn `json:"turns"`
}

// CreateConversation stores a conversation directly, outside the live
// session. Imports and client-side drafts use this; the live session is
// persisted by the auto-save flow instead.
// POST /api/v1/conversations
func (s *APIV1Service) CreateConversation(c echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	for _, turn := range req.Turns {
		if !turn.Role.IsValid() {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid turn role"})
		}
	}
	title := req.Title
	if title == "" {
		for _, turn := range req.Turns {
			if turn.Role == chat.RoleUser {
				title = turn.Text
				break
			}
		}
	}
	if title == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "title is required"})
	}

	conv, err := s.store.CreateConversation(c.Request().Context(), &store.Conversation{
		CreatorID: userIDFromContext(c),
		Title:     title,
		Turns:     req.Turns,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create conversation"})
	}
	return c.JSON(http.StatusCreated, toConversationResponse(conv))
}

// ListConversations returns the owner's conversations, newest first.
// GET /api/v1/conversations
func (s *APIV1Service) ListConversations(c echo.Context) error {
	userID := userIDFromContext(c)
	list, err := s.store.ListConversations(c.Request().Context(), &store.FindConversation{CreatorID: &userID})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list conversations"})
	}

	resp := make([]ConversationResponse, 0, len(list))
	for _, conv := range list {
		resp = append(resp, toConversationResponse(conv))
	}
	return c.JSON(http.StatusOK, resp)
}

// GetConversation returns one stored conversation.
// GET /api/v1/conversations/:id
func (s *APIV1Service) GetConversation(c echo.Context) error {
	conv, err := s.store.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get conversation"})
	}
	if conv == nil || conv.CreatorID != userIDFromContext(c) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}
	return c.JSON(http.StatusOK, toConversationResponse(conv))
}

// OpenConversation loads a stored conversation into the live session.
// POST /api/v1/conversations/:id/open
func (s *APIV1Service) OpenConversation(c echo.Context) error {
	userID := userIDFromContext(c)
	coordinator := s.sessions.Get(userID)

	conv, err := coordinator.Load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load conversation"})
	}
	if conv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}
	return c.JSON(http.StatusOK, toConversationResponse(conv))
}

// RenameConversationRequest is the rename payload.
type RenameConversationRequest struct {
	Title string `json:"title"`
}

// RenameConversation updates a conversation title.
// PATCH /api/v1/conversations/:id
func (s *APIV1Service) RenameConversation(c echo.Context) error {
	var req RenameConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Title == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "title is required"})
	}

	userID := userIDFromContext(c)
	coordinator := s.sessions.Get(userID)
	if err := coordinator.Rename(c.Request().Context(), c.Param("id"), req.Title); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to rename conversation"})
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteConversation removes a stored conversation. Deleting the currently
// open conversation also clears the live session.
// DELETE /api/v1/conversations/:id
func (s *APIV1Service) DeleteConversation(c echo.Context) error {
	userID := userIDFromContext(c)
	coordinator := s.sessions.Get(userID)
	if err := coordinator.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete conversation"})
	}
	return c.NoContent(http.StatusNoContent)
}
