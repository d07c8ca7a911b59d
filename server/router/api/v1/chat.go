package v1

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/papertalk/papertalk/chat"
	"github.com/papertalk/papertalk/server/internal/observability"
)

// ChatRequest is the ask-a-question payload.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the assistant's answer plus the session state the
// client needs to stay in sync.
type ChatResponse struct {
	Answer         chat.Turn `json:"answer"`
	ConversationID string    `json:"conversation_id,omitempty"`
	TurnCount      int       `json:"turn_count"`
}

// Chat asks a question about the owner's documents. The question and the
// answer are appended to the live transcript; persistence is left to the
// auto-save coordinator.
// POST /api/v1/chat
func (s *APIV1Service) Chat(c echo.Context) error {
	if s.engine == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "answer engine is not configured"})
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}

	userID := userIDFromContext(c)
	logger := observability.NewRequestContext(slog.Default(), "chat", userID)
	logger.Info("chat started", slog.Int(observability.LogFieldMessageLen, len(req.Message)))

	coordinator := s.sessions.Get(userID)
	if coordinator.IsGenerating() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "an answer is already being generated"})
	}

	coordinator.AppendTurn(chat.UserTurn(req.Message))
	coordinator.SetGenerating(true)

	answer, err := s.engine.Answer(c.Request().Context(), userID, coordinator.Turns())
	if err != nil {
		coordinator.SetGenerating(false)
		logger.Error("chat failed", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "failed to generate answer"})
	}

	coordinator.AppendTurn(answer)
	coordinator.SetGenerating(false)

	logger.Info("chat finished",
		slog.Int64(observability.LogFieldDuration, logger.DurationMs()),
		slog.Int("turn_count", coordinator.Len()),
	)
	return c.JSON(http.StatusOK, ChatResponse{
		Answer:         answer,
		ConversationID: coordinator.CurrentConversationID(),
		TurnCount:      coordinator.Len(),
	})
}
