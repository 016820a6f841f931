package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/curatarr/curatarr/internal/logger"
	"github.com/curatarr/curatarr/media"
	"github.com/curatarr/curatarr/rules"
	"github.com/curatarr/curatarr/settings"
)

type Server struct {
	db         *sql.DB
	rules      *rules.Service
	candidates rules.CandidateStore
	libraries  rules.LibraryStore
	logs       rules.ActionLogStore
	scanner    *rules.Scanner
	scheduler  *rules.Scheduler
	settings   settings.Repository
	provider   *settings.Provider
	registry   *prometheus.Registry
	router     *chi.Mux
}

func NewServer(databaseURL, secretKey, schedulerCron string) (*Server, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cipher, err := settings.NewCipherFromBase64Key(secretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid SECRET_KEY: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := rules.NewMetrics(registry)

	settingsRepo := settings.NewPostgresRepository(db, cipher)
	provider := settings.NewProvider(settingsRepo, logger.Logger)

	ruleService := rules.NewService(rules.NewPostgresRuleStore(db))
	candidates := rules.NewPostgresCandidateStore(db)
	libraries := rules.NewPostgresLibraryStore(db)
	logs := rules.NewPostgresActionLogStore(db)

	scanner := rules.NewScanner(ruleService, candidates, libraries, provider, metrics, logger.Logger)
	scheduler := rules.NewScheduler(ruleService, candidates, logs, provider, schedulerCron, metrics, logger.Logger)

	s := &Server{
		db:         db,
		rules:      ruleService,
		candidates: candidates,
		libraries:  libraries,
		logs:       logs,
		scanner:    scanner,
		scheduler:  scheduler,
		settings:   settingsRepo,
		provider:   provider,
		registry:   registry,
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Get("/{ruleId}", s.handleGetRule)
		r.Put("/{ruleId}", s.handleUpdateRule)
		r.Delete("/{ruleId}", s.handleDeleteRule)
	})

	r.Route("/api/v1/libraries", func(r chi.Router) {
		r.Get("/", s.handleListLibraries)
		r.Post("/import", s.handleImportLibraries)
	})

	r.Route("/api/v1/tasks", func(r chi.Router) {
		r.Post("/scan", s.handleScanAll)
		r.Post("/scan/{ruleId}", s.handleScanRule)
	})

	r.Route("/api/v1/candidates", func(r chi.Router) {
		r.Get("/", s.handleListCandidates)
		r.Post("/{candidateId}/add-to-collection", s.handleAddCandidateToCollection)
	})

	r.Get("/api/v1/logs", s.handleListLogs)

	r.Route("/api/v1/settings", func(r chi.Router) {
		r.Get("/", s.handleGetSettings)
		r.Post("/", s.handleUpdateSettings)
		r.Post("/test", s.handleTestPlex)
		r.Post("/test_radarr", s.handleTestRadarr)
		r.Post("/test_sonarr", s.handleTestSonarr)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:           "healthy",
		SchedulerRunning: s.scheduler.IsRunning(),
		NextSweep:        s.scheduler.NextRun(),
	})
}

// Rule handlers

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.rules.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	// Dry run defaults to true so new rules never destroy media unreviewed.
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	rule := &rules.Rule{
		LibraryID:  req.LibraryID,
		Name:       req.Name,
		Enabled:    req.Enabled,
		DryRun:     dryRun,
		Logic:      rules.Logic(req.Logic),
		Conditions: req.Conditions,
		Actions:    req.Actions,
	}

	if err := s.rules.Add(rule); err != nil {
		respondValidation(w, "failed to create rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	existing, err := s.rules.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := &rules.Rule{
		ID:         ruleID,
		LibraryID:  existing.LibraryID,
		Name:       existing.Name,
		Enabled:    existing.Enabled,
		DryRun:     existing.DryRun,
		Logic:      existing.Logic,
		Conditions: existing.Conditions,
		Actions:    existing.Actions,
	}
	if req.LibraryID != "" {
		rule.LibraryID = req.LibraryID
	}
	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.DryRun != nil {
		rule.DryRun = *req.DryRun
	}
	if req.Logic != "" {
		rule.Logic = rules.Logic(req.Logic)
	}
	if req.Conditions != nil {
		rule.Conditions = *req.Conditions
	}
	if req.Actions != nil {
		rule.Actions = *req.Actions
	}

	if err := s.rules.Update(rule); err != nil {
		respondValidation(w, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.Delete(chi.URLParam(r, "ruleId")); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Library handlers

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	list, err := s.libraries.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list libraries", err)
		return
	}
	if list == nil {
		list = []*rules.Library{}
	}
	respondJSON(w, http.StatusOK, LibrariesListResponse{Libraries: list})
}

// handleImportLibraries syncs the library list from the media source.
func (s *Server) handleImportLibraries(w http.ResponseWriter, r *http.Request) {
	collab, err := s.provider.Collaborators(r.Context())
	if errors.Is(err, rules.ErrNotConfigured) {
		respondError(w, http.StatusBadRequest, "media source not configured", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to resolve media source", err)
		return
	}

	plex, ok := collab.Source.(*media.PlexClient)
	if !ok {
		respondError(w, http.StatusInternalServerError, "media source does not support library import", nil)
		return
	}

	sections, err := plex.Libraries(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "failed to fetch libraries", err)
		return
	}

	imported := make([]*rules.Library, 0, len(sections))
	for i := range sections {
		lib := sections[i]
		if err := s.libraries.Upsert(&lib); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to save library", err)
			return
		}
		imported = append(imported, &lib)
	}

	respondJSON(w, http.StatusOK, LibrariesListResponse{Libraries: imported})
}

// Task handlers

func (s *Server) handleScanAll(w http.ResponseWriter, r *http.Request) {
	s.scanner.TriggerScanAll()
	respondJSON(w, http.StatusAccepted, ScanResponse{Status: "scan started"})
}

func (s *Server) handleScanRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")
	if _, err := s.rules.Get(ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	s.scanner.TriggerScan(ruleID)
	respondJSON(w, http.StatusAccepted, ScanResponse{Status: "scan started"})
}

// Candidate handlers

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	list, err := s.candidates.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list candidates", err)
		return
	}
	if list == nil {
		list = []*rules.Candidate{}
	}
	respondJSON(w, http.StatusOK, CandidatesListResponse{Candidates: list})
}

func (s *Server) handleAddCandidateToCollection(w http.ResponseWriter, r *http.Request) {
	candidateID := chi.URLParam(r, "candidateId")

	var req AddToCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.CollectionName == "" {
		respondError(w, http.StatusBadRequest, "collection_name is required", nil)
		return
	}

	err := s.scanner.AddCandidateToCollection(r.Context(), candidateID, req.CollectionName)
	if errors.Is(err, rules.ErrNotFound) {
		respondError(w, http.StatusNotFound, "candidate not found", err)
		return
	}
	var conflict *rules.ConflictError
	if errors.As(err, &conflict) {
		respondError(w, http.StatusConflict, conflict.Message, nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to add to collection", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// Log handlers

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := s.logs.List(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list logs", err)
		return
	}
	if list == nil {
		list = []*rules.ActionLog{}
	}
	respondJSON(w, http.StatusOK, LogsListResponse{Logs: list})
}

// Settings handlers

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.settings.Load()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings", err)
		return
	}

	// Credentials never leave the server; report presence only.
	respondJSON(w, http.StatusOK, map[string]any{
		"plex_url":          current.PlexURL,
		"plex_configured":   current.PlexConfigured(),
		"radarr_url":        current.RadarrURL,
		"radarr_configured": current.RadarrURL != "" && current.RadarrAPIKey != "",
		"sonarr_url":        current.SonarrURL,
		"sonarr_configured": current.SonarrURL != "" && current.SonarrAPIKey != "",
		"language":          current.Language,
		"theme":             current.Theme,
		"updated_at":        current.UpdatedAt,
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.settings.Load()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings", err)
		return
	}

	var req settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	// Empty credential fields keep the stored value, so the UI can update
	// URLs without re-entering secrets.
	if req.PlexToken == "" {
		req.PlexToken = current.PlexToken
	}
	if req.RadarrAPIKey == "" {
		req.RadarrAPIKey = current.RadarrAPIKey
	}
	if req.SonarrAPIKey == "" {
		req.SonarrAPIKey = current.SonarrAPIKey
	}
	if req.Language == "" {
		req.Language = current.Language
	}
	if req.Theme == "" {
		req.Theme = current.Theme
	}

	if err := s.settings.Save(&req); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save settings", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestPlex(w http.ResponseWriter, r *http.Request) {
	var req TestConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	client := media.NewPlexClient(req.URL, req.Token, logger.Logger)
	respondTest(w, client.TestConnection(r.Context()))
}

func (s *Server) handleTestRadarr(w http.ResponseWriter, r *http.Request) {
	var req TestConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	client := media.NewRadarrClient(req.URL, req.APIKey)
	respondTest(w, client.TestConnection(r.Context()))
}

func (s *Server) handleTestSonarr(w http.ResponseWriter, r *http.Request) {
	var req TestConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	client := media.NewSonarrClient(req.URL, req.APIKey)
	respondTest(w, client.TestConnection(r.Context()))
}

// Helper functions

func respondTest(w http.ResponseWriter, err error) {
	if err != nil {
		respondJSON(w, http.StatusOK, TestConnectionResponse{Success: false, Message: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, TestConnectionResponse{Success: true, Message: "Connection successful"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// respondValidation maps validation failures to 400 and everything else
// to 500.
func respondValidation(w http.ResponseWriter, message string, err error) {
	var validation *rules.ValidationError
	if errors.As(err, &validation) {
		respondError(w, http.StatusBadRequest, message, err)
		return
	}
	respondError(w, http.StatusInternalServerError, message, err)
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	secretKey := os.Getenv("SECRET_KEY")
	if secretKey == "" {
		logger.Fatal("SECRET_KEY environment variable is required (base64-encoded 32-byte key)")
	}

	server, err := NewServer(databaseURL, secretKey, os.Getenv("SCHEDULER_CRON"))
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}
	defer server.db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.scheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", "error", err)
	}

	// Optional periodic full scan, alongside on-demand scans.
	if scanCron := os.Getenv("SCAN_CRON"); scanCron != "" {
		c := cron.New()
		if _, err := c.AddFunc(scanCron, server.scanner.TriggerScanAll); err != nil {
			logger.Fatal("Invalid SCAN_CRON", "error", err)
		}
		c.Start()
		defer c.Stop()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	server.scheduler.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		logger.Error("Logger shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
