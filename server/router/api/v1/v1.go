// Package v1 exposes the papertalk REST API.
package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/papertalk/papertalk/chat/autosave"
	"github.com/papertalk/papertalk/internal/profile"
	"github.com/papertalk/papertalk/plugin/textextract"
	"github.com/papertalk/papertalk/server/ai"
	"github.com/papertalk/papertalk/store"
)

// ownerUserID is the single account a papertalk instance serves.
const ownerUserID int32 = 1

// APIV1Service holds the v1 API handlers and their dependencies.
type APIV1Service struct {
	profile   *profile.Profile
	store     *store.Store
	sessions  *autosave.SessionManager
	engine    *ai.Engine
	extractor *textextract.Extractor

	chatLimiter *rate.Limiter
}

// NewAPIV1Service creates the v1 API service. engine may be nil when no AI
// credentials are configured; the chat endpoint then reports unavailable.
func NewAPIV1Service(profile *profile.Profile, store *store.Store, sessions *autosave.SessionManager, engine *ai.Engine, extractor *textextract.Extractor) *APIV1Service {
	if extractor == nil {
		extractor = textextract.New(nil)
	}
	s := &APIV1Service{
		profile:   profile,
		store:     store,
		sessions:  sessions,
		engine:    engine,
		extractor: extractor,
	}
	if profile.ChatRatePerMinute > 0 {
		s.chatLimiter = rate.NewLimiter(rate.Limit(float64(profile.ChatRatePerMinute)/60.0), profile.ChatRatePerMinute)
	}
	return s
}

// Register mounts the v1 routes on the echo instance.
func (s *APIV1Service) Register(e *echo.Echo) {
	g := e.Group("/api/v1", s.authMiddleware)

	g.GET("/conversations", s.ListConversations)
	g.POST("/conversations", s.CreateConversation)
	g.GET("/conversations/:id", s.GetConversation)
	g.POST("/conversations/:id/open", s.OpenConversation)
	g.PATCH("/conversations/:id", s.RenameConversation)
	g.DELETE("/conversations/:id", s.DeleteConversation)

	g.GET("/documents", s.ListDocuments)
	g.POST("/documents", s.UploadDocument)
	g.DELETE("/documents/:id", s.DeleteDocument)

	g.GET("/session", s.GetSession)
	g.POST("/session/new", s.NewSession)
	g.POST("/session/save", s.SaveSession)

	g.POST("/chat", s.Chat, s.chatRateLimit)
}

// authMiddleware enforces the instance bearer token. With no token
// configured (dev mode) requests pass through as the owner.
func (s *APIV1Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.profile.APIToken != "" {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header || token != s.profile.APIToken {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
			}
		}
		c.Set("userID", ownerUserID)
		return next(c)
	}
}

// chatRateLimit caps chat requests; other endpoints are cheap enough to
// leave unmetered.
func (s *APIV1Service) chatRateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.chatLimiter != nil && !s.chatLimiter.Allow() {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "chat rate limit exceeded"})
		}
		return next(c)
	}
}

func userIDFromContext(c echo.Context) int32 {
	if id, ok := c.Get("userID").(int32); ok {
		return id
	}
	return ownerUserID
}
