// Package api is the Request Surface: an authenticated HTTP API over the
// Persistence Store and the Supervisor's lifecycle calls. It owns no
// trading logic of its own — every mutation either writes through the
// Store directly (bot CRUD) or delegates to the Supervisor (start/stop/
// pause/resume), which is the only thing allowed to mutate a BotRunner.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nimbustrade/tradeengine/internal/models"
	"github.com/nimbustrade/tradeengine/internal/store"
)

// supervisorControl is the slice of engine.Supervisor the Request Surface
// needs: lifecycle calls on registered bots. Kept narrow so tests can
// supply a stub instead of a full Supervisor.
type supervisorControl interface {
	RegisterBot(ctx context.Context, botID string) error
	UnregisterBot(ctx context.Context, botID string) error
	PauseBot(botID string) error
	ResumeBot(botID string) error
	RunnerState(botID string) models.BotRunnerState
	BotTodayPnL(ctx context.Context, botID string) (float64, error)
	BotOpenPositionCount(ctx context.Context, botID string) (int, error)
}

// Config configures the Request Surface's HTTP settings.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the Request Surface's chi-based HTTP API.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	store      store.Store
	supervisor supervisorControl
	logger     logrus.FieldLogger
	port       int
	authToken  string
}

// NewServer builds a Server and wires its routes.
func NewServer(cfg Config, st store.Store, sup supervisorControl, logger logrus.FieldLogger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		store:      st,
		supervisor: sup,
		logger:     logger,
		port:       cfg.Port,
		authToken:  cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(middleware.Compress(5))

	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.authMiddleware)
		}
		r.Route("/bots", func(r chi.Router) {
			r.Get("/", s.handleListBots)
			r.Post("/", s.handleCreateBot)
			r.Route("/{botID}", func(r chi.Router) {
				r.Get("/", s.handleGetBot)
				r.Delete("/", s.handleDeleteBot)
				r.Post("/start", s.handleStartBot)
				r.Post("/stop", s.handleStopBot)
				r.Post("/pause", s.handlePauseBot)
				r.Post("/resume", s.handleResumeBot)
				r.Get("/positions", s.handleListPositions)
				r.Get("/trades", s.handleListTrades)
				r.Get("/activity", s.handleListActivity)
			})
		})
	})
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loggedURL := redactToken(r.URL)
		entry := s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"url":    loggedURL.String(),
		})
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		entry.WithFields(logrus.Fields{
			"status":   wrapped.Status(),
			"duration": time.Since(start),
		}).Info("request surface: request handled")
	})
}

func redactToken(original *url.URL) *url.URL {
	clone := &url.URL{Scheme: original.Scheme, Host: original.Host, Path: original.Path, RawQuery: original.RawQuery}
	if original.RawQuery != "" {
		values := original.Query()
		if values.Has("token") {
			values.Set("token", "[REDACTED]")
			clone.RawQuery = values.Encode()
		}
	}
	return clone
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !s.isValidToken(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isValidToken(token string) bool {
	if len(token) != len(s.authToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

// Start runs the HTTP server until it is shut down. Blocks the caller; the
// composition root runs it in its own goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.WithField("port", s.port).Info("request surface: listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createBotRequest is the client-supplied shape for bot creation; server-
// assigned fields (id, status, error counters) are never accepted from
// the caller.
type createBotRequest struct {
	OwnerID    string                   `json:"owner_id"`
	Name       string                   `json:"name"`
	Capital    float64                  `json:"capital"`
	PeriodSecs int                      `json:"period_secs"`
	Symbols    []string                 `json:"symbols"`
	Window     models.TradingWindow     `json:"window"`
	Indicators []models.IndicatorConfig `json:"indicators"`
	Risk       models.RiskConfig        `json:"risk"`
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" || req.Name == "" || len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "owner_id, name and symbols are required")
		return
	}

	bot := &models.Bot{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		Name:       req.Name,
		Capital:    req.Capital,
		PeriodSecs: req.PeriodSecs,
		Symbols:    req.Symbols,
		Window:     req.Window,
		Indicators: req.Indicators,
		Risk:       req.Risk,
		Status:     models.BotStopped,
	}
	if err := s.store.CreateBot(r.Context(), bot); err != nil {
		s.logger.WithError(err).Error("api: create bot failed")
		writeError(w, http.StatusInternalServerError, "failed to create bot")
		return
	}
	writeJSON(w, http.StatusCreated, bot)
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter is required")
		return
	}
	bots, err := s.store.ListBotsByOwner(r.Context(), ownerID)
	if err != nil {
		s.logger.WithError(err).Error("api: list bots failed")
		writeError(w, http.StatusInternalServerError, "failed to list bots")
		return
	}
	writeJSON(w, http.StatusOK, bots)
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	bot, err := s.store.GetBot(r.Context(), botID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("api: get bot failed")
		writeError(w, http.StatusInternalServerError, "failed to get bot")
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if s.supervisor.RunnerState(botID) != models.RunnerStopped {
		writeError(w, http.StatusConflict, "bot must be stopped before it can be deleted")
		return
	}
	if err := s.store.DeleteBot(r.Context(), botID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bot not found")
			return
		}
		s.logger.WithError(err).Error("api: delete bot failed")
		writeError(w, http.StatusInternalServerError, "failed to delete bot")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if err := s.store.UpdateBotStatus(r.Context(), botID, models.BotRunning); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bot not found")
			return
		}
		s.logger.WithError(err).Error("api: persist running status failed")
		writeError(w, http.StatusInternalServerError, "failed to start bot")
		return
	}
	if err := s.supervisor.RegisterBot(r.Context(), botID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if err := s.supervisor.UnregisterBot(r.Context(), botID); err != nil {
		s.logger.WithError(err).Error("api: unregister bot failed")
		writeError(w, http.StatusInternalServerError, "failed to stop bot")
		return
	}
	if err := s.store.UpdateBotStatus(r.Context(), botID, models.BotStopped); err != nil {
		s.logger.WithError(err).Error("api: persist stopped status failed")
		writeError(w, http.StatusInternalServerError, "failed to stop bot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handlePauseBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if err := s.supervisor.PauseBot(botID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err := s.store.UpdateBotStatus(r.Context(), botID, models.BotPaused); err != nil {
		s.logger.WithError(err).Error("api: persist paused status failed")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeBot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if err := s.supervisor.ResumeBot(botID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err := s.store.UpdateBotStatus(r.Context(), botID, models.BotRunning); err != nil {
		s.logger.WithError(err).Error("api: persist running status failed")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	positions, err := s.store.ListOpenPositionsByBot(r.Context(), botID)
	if err != nil {
		s.logger.WithError(err).Error("api: list positions failed")
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	limit := parseLimit(r, 100)
	trades, err := s.store.ListTradesByBot(r.Context(), botID, limit)
	if err != nil {
		s.logger.WithError(err).Error("api: list trades failed")
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	limit := parseLimit(r, 100)
	entries, err := s.store.ListActivityLogsByBot(r.Context(), botID, limit)
	if err != nil {
		s.logger.WithError(err).Error("api: list activity failed")
		writeError(w, http.StatusInternalServerError, "failed to list activity")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
