package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/54b3r/semdex-go/internal/logging"
	"github.com/54b3r/semdex-go/internal/rag"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON-formatted error response with the given status code.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes a size-limited JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps a core error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, rag.ErrStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// confineToDir validates that target resolves to a path inside root after
// cleaning both. This prevents path traversal attacks (e.g. "../../etc/passwd").
// Relative targets are joined to root. Returns the cleaned absolute target path
// or an error.
func confineToDir(root, target string) (string, error) {
	root = filepath.Clean(root)
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)
	if target == root {
		return target, nil
	}
	if !strings.HasPrefix(target+string(filepath.Separator), root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the base directory", target)
	}
	return target, nil
}

// handleQuery handles POST /api/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req queryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	collection := req.Collection
	if collection == "" {
		collection = s.cfg.Ingest.Collection
	}
	if collection == "" {
		collection = rag.DefaultCollection
	}

	start := time.Now()
	results, err := s.querier.Query(r.Context(), rag.QueryConfig{
		Text:       req.Query,
		Limit:      req.Limit,
		Collection: collection,
		Override:   rag.Override{Provider: req.Provider, Model: req.Model},
	})
	outcome := outcomeOf(err)
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn("query failed", slog.String("collection", collection), slog.Any("error", err))
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	if results == nil {
		results = []rag.Result{}
	}
	writeJSON(w, http.StatusOK, queryResponse{Collection: collection, Results: results})
}

// handleIngest handles POST /api/ingest. Every path must resolve inside the
// configured base directory.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req ingestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Paths) == 0 {
		writeJSONError(w, "paths is required", http.StatusBadRequest)
		return
	}

	roots := make([]string, 0, len(req.Paths))
	for _, p := range req.Paths {
		abs, err := confineToDir(s.cfg.BaseDir, p)
		if err != nil {
			log.Warn("ingest: rejected path", slog.String("path", p))
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		roots = append(roots, abs)
	}

	cfg := s.cfg.Ingest
	cfg.BaseDir = s.cfg.BaseDir
	cfg.Roots = roots
	cfg.Reset = req.Reset
	cfg.UniqueIDs = req.UniqueIDs
	if len(req.Patterns) > 0 {
		cfg.Patterns = req.Patterns
	}
	if req.Collection != "" {
		cfg.Collection = req.Collection
	}
	if req.Provider != "" {
		cfg.Provider = req.Provider
	}
	if req.Model != "" {
		cfg.Model = req.Model
	}
	if req.ChunkSize > 0 {
		cfg.ChunkSize = req.ChunkSize
	}
	if req.ChunkOverlap != 0 {
		cfg.ChunkOverlap = req.ChunkOverlap
	}
	if req.BatchSize > 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.MaxFiles > 0 {
		cfg.MaxFiles = req.MaxFiles
	}

	sum, err := s.ingester.Ingest(r.Context(), cfg)
	s.metrics.ingestRequestsTotal.WithLabelValues(outcomeOf(err)).Inc()
	if err != nil {
		log.Error("ingest failed", slog.Any("error", err))
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.ingestChunksTotal.Add(float64(sum.ChunksAdded))
	writeJSON(w, http.StatusOK, sum)
}

// handleReset handles POST /api/collections/{name}/reset.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.store.Reset(r.Context(), name); err != nil {
		logging.FromContext(r.Context()).Error("reset failed", slog.String("collection", name), slog.Any("error", err))
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, resetResponse{Collection: name, Reset: true})
}

// handleCount handles GET /api/collections/{name}/count.
func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	coll, err := s.store.GetOrCreate(r.Context(), name)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	n, err := coll.Count(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Collection: name, Count: n})
}

// outcomeOf returns the metric outcome label for err.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, rag.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
