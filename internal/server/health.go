package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/semdex-go/internal/logging"
	"github.com/54b3r/semdex-go/internal/version"
)

// probeTimeout bounds each dependency probe so /api/ready answers quickly
// when the store or an embedding backend hangs.
const probeTimeout = 5 * time.Second

// Pinger is implemented by any dependency that can report its own
// reachability. Implementations must be safe to call from multiple
// goroutines.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error

	// Name is the label used in readiness responses ("store", "ollama").
	Name() string
}

// readyCheck is the result of one dependency probe.
type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	// Error is the failure reason when OK is false.
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every probe succeeded.
	Ready bool `json:"ready"`
	// Store is the configured collection store backend.
	Store string `json:"store,omitempty"`
	// Providers is the embedding chain in the order it is tried.
	Providers []string     `json:"providers,omitempty"`
	Checks    []readyCheck `json:"checks"`
}

// healthResponse is the JSON body returned by GET /api/health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// handleHealth handles GET /api/health. It only reports that the process is
// serving; dependency state lives in /api/ready.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version})
}

// handleReady handles GET /api/ready. All probes run concurrently, each
// under probeTimeout, and checks keep the configured pinger order. Any
// failing probe turns the response into 503.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var wg sync.WaitGroup
	for i, p := range s.pingers {
		wg.Go(func() {
			checks[i] = runProbe(r.Context(), p)
		})
	}
	wg.Wait()

	resp := readyResponse{
		Ready:     true,
		Store:     s.cfg.StoreBackend,
		Providers: s.cfg.Providers,
		Checks:    checks,
	}
	for _, c := range checks {
		if !c.OK {
			resp.Ready = false
			log.Warn("readiness probe failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
				slog.Int64("latency_ms", c.LatencyMS),
			)
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// runProbe pings p under probeTimeout and times the call.
func runProbe(ctx context.Context, p Pinger) readyCheck {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	check := readyCheck{
		Name:      p.Name(),
		OK:        err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Error = err.Error()
	}
	return check
}
