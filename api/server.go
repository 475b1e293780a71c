// Package api serves a read-only JSON view of the running frame pipelines
// over HTTPS and HTTP/3.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/framestream/certs"
	"github.com/zsiec/framestream/stream"
)

// Registry is the view of the stream manager the API needs.
// *stream.Manager implements it.
type Registry interface {
	Snapshot() []stream.Info
	Get(key string) (*stream.Stream, bool)
}

// ServerConfig configures the status API server.
type ServerConfig struct {
	// Addr is the UDP address of the HTTP/3 listener.
	Addr    string
	Cert    *certs.CertInfo
	Streams Registry
	Log     *slog.Logger
}

// Server serves the status API.
type Server struct {
	config ServerConfig
	log    *slog.Logger
	h3     *http3.Server
}

type streamsResponse struct {
	Count   int           `json:"count"`
	Streams []stream.Info `json:"streams"`
}

type certHashResponse struct {
	Hash string `json:"hash"`
	Hex  string `json:"hex"`
	Addr string `json:"addr"`
}

// NewServer validates config and returns a Server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("api: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("api: Addr is required")
	}
	if config.Streams == nil {
		return nil, errors.New("api: Streams is required")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		config: config,
		log:    log.With("component", "api"),
	}, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/streams", s.handleListStreams)
	mux.HandleFunc("GET /api/streams/{key}", s.handleGetStream)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
}

// APIHandler returns the handler for the HTTPS listener. Responses
// advertise the HTTP/3 endpoint through Alt-Svc.
func (s *Server) APIHandler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return corsMiddleware(s.altSvcMiddleware(mux))
}

func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	_, port, err := net.SplitHostPort(s.config.Addr)
	if err != nil || port == "" || port == "0" {
		return next
	}
	value := fmt.Sprintf(`h3=":%s"; ma=86400`, port)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Alt-Svc", value)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Start runs the HTTP/3 listener and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.h3 = &http3.Server{
		Addr:      s.config.Addr,
		Handler:   corsMiddleware(mux),
		TLSConfig: s.config.Cert.TLSConfig(http3.NextProtoH3),
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
			Allow0RTT:      true,
		},
	}

	s.log.Info("HTTP/3 API listening", "addr", s.config.Addr)

	stop := context.AfterFunc(ctx, func() { s.h3.Close() })
	defer stop()

	err := s.h3.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	infos := s.config.Streams.Snapshot()
	if infos == nil {
		infos = []stream.Info{}
	}
	writeJSON(w, http.StatusOK, streamsResponse{Count: len(infos), Streams: infos})
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	st, ok := s.config.Streams.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	writeJSON(w, http.StatusOK, st.Info())
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash: s.config.Cert.FingerprintBase64(),
		Hex:  s.config.Cert.FingerprintHex(),
		Addr: s.config.Addr,
	})
}
