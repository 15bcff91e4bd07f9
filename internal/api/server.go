// Package api exposes the engine over HTTP: status, controls and the audio
// streams.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/satindergrewal/infinitechno/internal/engine"
	"github.com/satindergrewal/infinitechno/internal/viz"
)

// Controller is the part of the engine the API drives.
type Controller interface {
	Snapshot() engine.Snapshot
	ToggleRecording()
	ToggleVizMode()
}

// Feed provides the latest visualization summary.
type Feed interface {
	Latest() (viz.Summary, bool)
}

// Listeners counts connected stream clients.
type Listeners func() (httpCount, webrtcCount int)

// Server routes API and stream requests.
type Server struct {
	ctl       Controller
	feed      Feed
	listeners Listeners
	router    *chi.Mux
}

// Streams are the optional audio handlers mounted next to the API.
type Streams struct {
	HTTP   http.Handler // GET /stream
	WebRTC http.Handler // POST /offer
}

// New builds the router.
func New(ctl Controller, feed Feed, streams Streams, listeners Listeners) *Server {
	s := &Server{
		ctl:       ctl,
		feed:      feed,
		listeners: listeners,
		router:    chi.NewRouter(),
	}

	r := s.router
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if streams.HTTP != nil {
		r.Get("/stream", streams.HTTP.ServeHTTP)
	}
	if streams.WebRTC != nil {
		r.Post("/offer", streams.WebRTC.ServeHTTP)
		r.Options("/offer", streams.WebRTC.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/viz", s.handleVizSummary)
		r.Post("/viz", s.handleVizToggle)
		r.Post("/record", s.handleRecord)
	})
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on port until ctx is cancelled.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
			srv.Close()
		}
	}()

	log.Printf("infinitechno live on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusResponse struct {
	engine.Snapshot
	HTTPListeners   int `json:"http_listeners"`
	WebRTCListeners int `json:"webrtc_listeners"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Snapshot: s.ctl.Snapshot()}
	if s.listeners != nil {
		resp.HTTPListeners, resp.WebRTCListeners = s.listeners()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVizSummary(w http.ResponseWriter, r *http.Request) {
	sum, ok := s.feed.Latest()
	if !ok {
		http.Error(w, "no audio rendered yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleVizToggle(w http.ResponseWriter, r *http.Request) {
	s.ctl.ToggleVizMode()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// handleRecord toggles recording. A JSON body {"recording": bool} asks for a
// specific state and is a no-op when already there.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recording *bool `json:"recording"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}

	current := s.ctl.Snapshot().Recording.Recording
	want := !current
	if req.Recording != nil {
		want = *req.Recording
	}
	if want != current {
		s.ctl.ToggleRecording()
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "recording": want})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
