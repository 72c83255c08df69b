package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/repo"
)

type RouterDeps struct {
	Contests  ContestService
	WebSocket http.Handler
	Limiter   *RateLimiter
	// Archive serves stored leaderboards. Nil disables the archive route.
	Archive repo.LeaderboardReader
	// Healthy reports whether the ingestion engine accepts submissions.
	Healthy func() bool
}

// NewRouter builds the HTTP API.
func NewRouter(d RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger())

	r.GET("/health", func(c *gin.Context) {
		if d.Healthy != nil && !d.Healthy() {
			WriteJSONError(c, "unavailable", http.StatusServiceUnavailable)
			return
		}
		WriteJSONResponse(c, gin.H{"status": "ok"}, http.StatusOK)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if d.WebSocket != nil {
		r.GET("/ws", gin.WrapH(d.WebSocket))
	}

	h := NewContestHandler(d.Contests)
	api := r.Group("/api/v1")
	api.GET("/contests", h.ListContests)
	api.GET("/contests/:contest/stations", h.ListStations)
	api.GET("/contests/:contest/stations/:callsign", h.GetStation)
	api.GET("/contests/:contest/leaderboard", h.GetLeaderboard)

	if d.Archive != nil {
		api.GET("/archive/:contest", NewArchiveHandler(d.Archive).GetArchivedLeaderboard)
	}

	submit := []gin.HandlerFunc{h.Submit}
	if d.Limiter != nil {
		submit = append([]gin.HandlerFunc{d.Limiter.Middleware()}, submit...)
	}
	api.POST("/submissions", submit...)

	return r
}

// Server runs the HTTP API until its context is cancelled.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

func NewServer(addr string, handler http.Handler, readTimeout, shutdownTimeout time.Duration) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readTimeout,
		},
		shutdownTimeout: shutdownTimeout,
	}
}

func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.srv.Addr).Msg("starting http server")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http server shutdown")
		}
		return ctx.Err()
	}
}

func (s *Server) String() string {
	return "http-server"
}
