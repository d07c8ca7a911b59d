// Package server wires the HTTP surface of papertalk.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/papertalk/papertalk/chat"
	"github.com/papertalk/papertalk/chat/autosave"
	"github.com/papertalk/papertalk/internal/profile"
	"github.com/papertalk/papertalk/plugin/textextract"
	"github.com/papertalk/papertalk/server/ai"
	apiv1 "github.com/papertalk/papertalk/server/router/api/v1"
	"github.com/papertalk/papertalk/store"
)

// Server is the papertalk HTTP server.
type Server struct {
	profile *profile.Profile
	store   *store.Store
	echo    *echo.Echo
}

// New assembles the server: store, answer engine, session manager, routes.
func New(ctx context.Context, profile *profile.Profile, st *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			)
			return nil
		},
	}))

	var engine *ai.Engine
	if profile.IsAIEnabled() {
		var err error
		engine, err = ai.NewEngine(&ai.Config{
			BaseURL:   profile.AIBaseURL,
			APIKey:    profile.AIAPIKey,
			ChatModel: profile.AIChatModel,
		}, ai.NewRetriever(st))
		if err != nil {
			return nil, err
		}
	} else {
		slog.Warn("no AI API key configured; chat endpoint will be unavailable")
	}

	extractor := textextract.New(&textextract.Config{TikaServerURL: profile.TikaServerURL})
	sessions := autosave.NewSessionManager(st, chat.NewLogNotifier(nil), autosave.WithBaseContext(ctx))
	apiService := apiv1.NewAPIV1Service(profile, st, sessions, engine, extractor)
	apiService.Register(e)

	return &Server{
		profile: profile,
		store:   st,
		echo:    e,
	}, nil
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	slog.Info("server started", "address", address, "version", s.profile.Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.echo.Start(address); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return err
		}
		slog.Info("server shut down")
		return nil
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
