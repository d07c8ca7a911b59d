package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/papertalk/papertalk/chat"
)

// SessionResponse is the live session state.
type SessionResponse struct {
	ConversationID string      `json:"conversation_id,omitempty"`
	Turns          []chat.Turn `json:"turns"`
	Generating     bool        `json:"generating"`
}

// GetSession returns the live transcript and its persisted-record pointer.
// GET /api/v1/session
func (s *APIV1Service) GetSession(c echo.Context) error {
	coordinator := s.sessions.Get(userIDFromContext(c))
	return c.JSON(http.StatusOK, SessionResponse{
		ConversationID: coordinator.CurrentConversationID(),
		Turns:          coordinator.Turns(),
		Generating:     coordinator.IsGenerating(),
	})
}

// NewSession starts a fresh conversation: the live transcript and the
// coordinator memory are cleared.
// POST /api/v1/session/new
func (s *APIV1Service) NewSession(c echo.Context) error {
	coordinator := s.sessions.Get(userIDFromContext(c))
	coordinator.NewConversation()
	return c.NoContent(http.StatusNoContent)
}

// SaveSession flushes the live transcript immediately, without waiting for
// the auto-save quiet window.
// POST /api/v1/session/save
func (s *APIV1Service) SaveSession(c echo.Context) error {
	coordinator := s.sessions.Get(userIDFromContext(c))
	if err := coordinator.SaveNow(c.Request().Context()); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save conversation"})
	}
	return c.JSON(http.StatusOK, SessionResponse{
		ConversationID: coordinator.CurrentConversationID(),
		Turns:          coordinator.Turns(),
		Generating:     coordinator.IsGenerating(),
	})
}
