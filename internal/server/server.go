// Package server implements the HTTP API fronting the repository mirror.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gray247/gitbridge/internal/config"
	"github.com/gray247/gitbridge/internal/fileops"
	"github.com/gray247/gitbridge/internal/gitsync"
	"github.com/gray247/gitbridge/internal/logging"
	"github.com/gray247/gitbridge/internal/paths"
	"github.com/gray247/gitbridge/internal/retry"
	"github.com/gray247/gitbridge/internal/server/types"
	pkgsync "github.com/gray247/gitbridge/pkg/sync"
)

const shutdownGrace = 5 * time.Second

var routes = []string{
	"GET /",
	"POST /upload",
	"POST /move",
	"POST /delete",
	"POST /verify_upload",
	"GET /tree",
	"GET /health",
	"GET /profiles",
	"POST /profiles/activate",
	"GET /metrics",
}

// HealthReporter probes the working copy and its upstream.
type HealthReporter interface {
	Health(ctx context.Context) (gitsync.Health, error)
}

// Server exposes file mutations over HTTP. Every mutation is written to
// the working copy first and then published through the Publisher; the
// response reports both outcomes.
type Server struct {
	config    *config.Root
	profile   *config.Profile
	store     *fileops.Store
	publisher pkgsync.Publisher
	health    HealthReporter
	policy    retry.Policy
	log       *logging.Logger

	// mu guards the active-profile field of config; handlers run on
	// separate goroutines and activation writes it.
	mu sync.Mutex
}

func New(cfg *config.Root, profile *config.Profile, store *fileops.Store, publisher pkgsync.Publisher, log *logging.Logger) *Server {
	return &Server{
		config:    cfg,
		profile:   profile,
		store:     store,
		publisher: publisher,
		policy:    retry.DefaultPolicy(),
		log:       log,
	}
}

func (s *Server) WithHealthReporter(h HealthReporter) *Server {
	s.health = h
	return s
}

func (s *Server) WithRetryPolicy(p retry.Policy) *Server {
	s.policy = p
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /move", s.handleMove)
	mux.HandleFunc("POST /delete", s.handleDelete)
	mux.HandleFunc("POST /verify_upload", s.handleVerify)
	mux.HandleFunc("GET /tree", s.handleTree)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /profiles", s.handleProfiles)
	mux.HandleFunc("POST /profiles/activate", s.handleActivate)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.config.Service.ListenAddr(),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.log.Infof("listening on %s", httpServer.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.IndexResponse{
		Service:  "gitbridge",
		Profile:  s.profile.Name,
		SafeMode: s.store.SafeMode(),
		Routes:   routes,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req types.UploadRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" || req.Content == nil {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "path and content are required")
		return
	}

	abs, err := paths.Validate(s.store.Root(), req.Path)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if err := s.store.Write(abs, []byte(*req.Content)); err != nil {
		s.writeFailure(w, err)
		return
	}

	rel := s.store.Rel(abs)
	result, err := s.publish(r.Context(), "Upload "+rel)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MutationResponse{Status: "ok", Path: rel, Sync: result.String()})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req types.MoveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Src == "" || req.Dst == "" {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "src and dst are required")
		return
	}

	src, err := paths.Validate(s.store.Root(), req.Src)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	dst, err := paths.Validate(s.store.Root(), req.Dst)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if err := s.store.Move(src, dst); err != nil {
		s.writeFailure(w, err)
		return
	}

	relSrc, relDst := s.store.Rel(src), s.store.Rel(dst)
	result, err := s.publish(r.Context(), fmt.Sprintf("Move %s to %s", relSrc, relDst))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MutationResponse{Status: "ok", From: relSrc, To: relDst, Sync: result.String()})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req types.DeleteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "path is required")
		return
	}

	abs, err := paths.Validate(s.store.Root(), req.Path)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if err := s.store.Delete(abs); err != nil {
		s.writeFailure(w, err)
		return
	}

	rel := s.store.Rel(abs)
	result, err := s.publish(r.Context(), "Delete "+rel)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MutationResponse{Status: "ok", Path: rel, Sync: result.String()})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "path is required")
		return
	}

	abs, err := paths.Validate(s.store.Root(), req.Path)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	rel := s.store.Rel(abs)
	info, err := s.store.Stat(abs)
	if errors.Is(err, fileops.ErrNotFound) {
		writeJSON(w, http.StatusOK, types.VerifyResponse{Path: rel, Exists: false})
		return
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.VerifyResponse{
		Path:     rel,
		Exists:   true,
		Size:     info.Size,
		Modified: info.Modified.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.Tree()
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.TreeResponse{Files: files, Count: len(files)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, types.HealthResponse{Status: "ok", GitStatus: "unknown", Remote: "unknown"})
		return
	}

	h, err := s.health.Health(r.Context())
	if err != nil {
		s.log.Errorf("health probe failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, types.HealthResponse{Status: "error", GitStatus: "unknown", Remote: "unknown"})
		return
	}

	status, code := "ok", http.StatusOK
	if h.GitStatus != "clean" {
		status = "degraded"
	}
	// An unreachable upstream means publishes cannot complete; report
	// it as a server error so probes take the instance out of rotation.
	if h.Remote != "connected" {
		status, code = "degraded", http.StatusInternalServerError
	}
	writeJSON(w, code, types.HealthResponse{Status: status, GitStatus: h.GitStatus, Remote: h.Remote})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	active := s.config.Active
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, types.ProfilesResponse{
		Profiles: s.config.ProfileNames(),
		Active:   active,
	})
}

// handleActivate records the new active profile but does not hot-swap
// the running synchronizer; the mirror state machine is bound to one
// upstream for the lifetime of the process.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req types.ActivateRequest
	if !decode(w, r, &req) {
		return
	}
	if _, ok := s.config.Profiles[req.Name]; !ok {
		writeError(w, http.StatusNotFound, types.CodeNotFound, fmt.Sprintf("unknown profile %q", req.Name))
		return
	}

	s.mu.Lock()
	s.config.Active = req.Name
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, types.ActivateResponse{Status: "restart required", Name: req.Name})
}

func (s *Server) publish(ctx context.Context, message string) (pkgsync.Result, error) {
	return retry.Do(ctx, s.policy, "publish", s.log, publishRetryable, func() (pkgsync.Result, error) {
		return s.publisher.Publish(ctx, message)
	})
}

func publishRetryable(err error) bool {
	return errors.Is(err, gitsync.ErrLockTimeout) || errors.Is(err, gitsync.ErrPublish)
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, paths.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, types.CodeInvalidPath, err.Error())
	case errors.Is(err, fileops.ErrNotFound):
		writeError(w, http.StatusNotFound, types.CodeNotFound, err.Error())
	case errors.Is(err, fileops.ErrDeleteDisabled):
		writeError(w, http.StatusForbidden, types.CodeDeleteDisabled, err.Error())
	default:
		s.log.Errorf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, types.CodeInternal, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
