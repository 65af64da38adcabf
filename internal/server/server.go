// Package server provides the HTTP API over the mirror.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/chanmirror/internal/mirror"
	"github.com/bryan-buckman/chanmirror/internal/model"
	"github.com/bryan-buckman/chanmirror/internal/opml"
	"github.com/bryan-buckman/chanmirror/internal/remote"
	"github.com/bryan-buckman/chanmirror/internal/rss"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const refreshTimeout = 5 * time.Minute

// Links builds the public urls written into OPML exports.
type Links struct {
	WebBaseURL string
	FeedURL    func(slug string) string
}

// Server is the main HTTP server.
type Server struct {
	engine *mirror.Engine
	poller *rss.Poller
	links  Links
	router chi.Router

	mu   sync.Mutex
	http *http.Server
}

// New creates a new server.
func New(engine *mirror.Engine, poller *rss.Poller, links Links) *Server {
	s := &Server{
		engine: engine,
		poller: poller,
		links:  links,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/collections/{slug}", s.handleCollection)
		r.Get("/collections/{slug}/connections", s.handleConnections)
		r.Get("/actors/{key}", s.handleActor)
		r.Get("/items/{id}", s.handleItem)
		r.Get("/items/{id}/collections", s.handleItemCollections)
		r.Get("/watch", s.handleWatched)
		r.Post("/watch", s.handleWatch)
		r.Delete("/watch/{slug}", s.handleUnwatch)
		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
		r.Post("/refresh", s.handleRefresh)
	})

	s.router = r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the poller and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.poller.Start()
	hs := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.http = hs
	s.mu.Unlock()
	log.Info().Str("addr", addr).Msg("server starting")
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the poller and drains open requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.poller.Stop()
	s.mu.Lock()
	hs := s.http
	s.mu.Unlock()
	if hs == nil {
		return nil
	}
	return hs.Shutdown(ctx)
}

// requestLogger writes one event per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		logger := log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// --- API Handlers ---

type collectionView struct {
	mirror.Snapshot
	State model.SyncState `json:"state"`
}

type actorView struct {
	mirror.ActorSnapshot
	State model.SyncState `json:"state"`
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	opts := mirror.SyncOptions{Force: r.URL.Query().Get("force") == "1"}
	snap, err := s.engine.SyncCollection(r.Context(), chi.URLParam(r, "slug"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collectionView{Snapshot: snap, State: snap.State()})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	opts := mirror.SyncOptions{Force: r.URL.Query().Get("force") == "1"}
	snap, err := s.engine.SyncConnections(r.Context(), chi.URLParam(r, "slug"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collectionView{Snapshot: snap, State: snap.State()})
}

func (s *Server) handleActor(w http.ResponseWriter, r *http.Request) {
	opts := mirror.SyncOptions{Force: r.URL.Query().Get("force") == "1"}
	snap, err := s.engine.SyncActor(r.Context(), chi.URLParam(r, "key"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actorView{ActorSnapshot: snap, State: snap.State()})
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	found, err := s.engine.Item(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	item, ok := found.Get()
	if !ok {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleItemCollections(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	collections, err := s.engine.ItemCollections(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if collections == nil {
		collections = []model.Collection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": collections})
}

func (s *Server) handleWatched(w http.ResponseWriter, r *http.Request) {
	slugs, err := s.engine.Watched(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slugs": slugs})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slugs []string `json:"slugs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	added, err := s.engine.Watch(r.Context(), req.Slugs...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "added": added})
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	removed, err := s.engine.Unwatch(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !removed {
		http.Error(w, "Not watched", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse OPML: %v", err), http.StatusBadRequest)
		return
	}
	slugs := make([]string, 0, len(entries))
	for _, e := range entries {
		slugs = append(slugs, e.Slug)
	}
	imported, err := s.engine.Watch(r.Context(), slugs...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"imported": imported,
		"total":    len(entries),
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	slugs, err := s.engine.Watched(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries := make([]opml.Entry, 0, len(slugs))
	for _, slug := range slugs {
		snap, err := s.engine.Collection(r.Context(), slug)
		if err != nil {
			writeError(w, r, err)
			return
		}
		entries = append(entries, s.entry(slug, snap.Collection))
	}

	data, err := opml.Export("chanmirror watch list", entries)
	if err != nil {
		http.Error(w, "Failed to export", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=chanmirror-watchlist.opml")
	w.Write(data)
}

func (s *Server) entry(slug string, c model.Collection) opml.Entry {
	e := opml.Entry{Slug: slug, Title: c.Title}
	if s.links.WebBaseURL != "" {
		page := []string{s.links.WebBaseURL, slug}
		if c.Author != nil && c.Author.Slug != "" {
			page = []string{s.links.WebBaseURL, c.Author.Slug, slug}
		}
		e.HTMLURL = strings.Join(page, "/")
	}
	if s.links.FeedURL != nil {
		e.XMLURL = s.links.FeedURL(slug)
	}
	return e
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	results, err := s.poller.RunOnce(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total := 0
	for _, c := range results {
		total += c
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"new_items":   total,
		"collections": len(results),
	})
}

// --- Helpers ---

func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid item id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

// writeError maps engine errors onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var httpErr *remote.HTTPError
	switch {
	case errors.Is(err, remote.ErrAuthRequired):
		status = http.StatusUnauthorized
	case errors.Is(err, remote.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound:
		status = http.StatusNotFound
	case errors.As(err, &httpErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	log.Ctx(r.Context()).Warn().Err(err).Int("status", status).Msg("request failed")
	http.Error(w, err.Error(), status)
}
