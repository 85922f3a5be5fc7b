// Package debug provides self-instrumentation for procprof: a pprof server
// and timing of the sampling backends.
package debug

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// TimingsPath serves the backend timings of the running session as JSON.
const TimingsPath = "/debug/procprof/timings"

// Server is a debug HTTP server exposing pprof and the session timings.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *logrus.Logger
}

// StartPprofServer listens on addr and serves the pprof handlers. When rec is
// non-nil its timings are served at TimingsPath while the session runs.
func StartPprofServer(addr string, rec *Recorder, logger *logrus.Logger) (*Server, error) {
	if addr == "" {
		addr = "localhost:6060"
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("pprof server failed: %w", err)
	}

	s := &Server{
		server: &http.Server{
			Handler:           newDebugMux(rec),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}

	go func() {
		logger.WithField("addr", ln.Addr().String()).Info("pprof server starting")
		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("pprof server stopped")
		}
	}()
	return s, nil
}

// Addr is the address the server listens on.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Stop shuts the server down, waiting up to five seconds for open requests.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Warn("pprof server shutdown")
	}
}

func newDebugMux(rec *Recorder) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	if rec != nil {
		mux.Handle(TimingsPath, rec)
	}
	return mux
}

type jsonTiming struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
	MaxMs   float64 `json:"max_ms"`
	TotalMs float64 `json:"total_ms"`
}

// ServeHTTP writes the current timings as a JSON array.
func (r *Recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	timings := r.Timings()
	out := make([]jsonTiming, 0, len(timings))
	for _, t := range timings {
		out = append(out, jsonTiming{
			Name:    t.Name,
			Count:   t.Count,
			P50Ms:   millis(t.P50),
			P95Ms:   millis(t.P95),
			MaxMs:   millis(t.Max),
			TotalMs: millis(t.Total),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
