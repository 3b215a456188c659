package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/workbench/internal/events"
	"github.com/tOgg1/workbench/internal/logging"
	"github.com/tOgg1/workbench/internal/models"
)

const maxPayloadBytes = 4 << 20

// EventSource feeds the renderer event stream.
type EventSource interface {
	SubscribeChan(id string, filter events.Filter, buffer int) (<-chan *models.Event, error)
	Unsubscribe(id string) error
}

// Vars are the process facts the renderer reads at startup.
type Vars struct {
	ExePath          string `json:"exe_path"`
	BackendVersion   string `json:"backend_version"`
	WorkbenchVersion string `json:"workbench_version"`
	UserDataPath     string `json:"user_data_path"`
	BackendURL       string `json:"backend_url"`
}

// Reply is the JSON body of an invoke response.
type Reply struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Server exposes a Bridge over HTTP.
type Server struct {
	bridge *Bridge
	source EventSource
	vars   Vars

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	closing  chan struct{}
	closed   bool

	logger zerolog.Logger
}

// NewServer builds a server for b. source may be nil, in which case the
// event stream answers 404.
func NewServer(b *Bridge, source EventSource, vars Vars) *Server {
	return &Server{
		bridge:  b,
		source:  source,
		vars:    vars,
		closing: make(chan struct{}),
		logger:  logging.Component("bridge"),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ipc/invoke/{channel}", s.handleInvoke)
	mux.HandleFunc("POST /ipc/send/{channel}", s.handleSend)
	mux.HandleFunc("GET /ipc/events", s.handleEvents)
	mux.HandleFunc("GET /api/vars", s.handleVars)
	return mux
}

// Listen binds addr. Use Addr to learn the port when addr ends in ":0".
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, ln := s.http, s.listener
	s.mu.Unlock()
	if srv == nil {
		return errors.New("bridge server: Listen not called")
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("bridge listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx is
// done. Open event streams are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	if !s.closed {
		s.closed = true
		close(s.closing)
	}
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return srv.Close()
	}
	return nil
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	payload, err := readPayload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Reply{Error: err.Error()})
		return
	}

	result, err := s.bridge.Invoke(r.Context(), channel, payload)
	switch {
	case errors.Is(err, ErrUnknownChannel):
		writeJSON(w, http.StatusNotFound, Reply{Error: err.Error()})
	case err != nil:
		s.logger.Warn().Err(err).Str("channel", channel).Msg("invoke failed")
		writeJSON(w, http.StatusOK, Reply{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, Reply{OK: true, Result: result})
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	payload, err := readPayload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Reply{Error: err.Error()})
		return
	}
	if err := s.bridge.Send(channel, payload); err != nil {
		writeJSON(w, http.StatusNotFound, Reply{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVars(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.vars)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		http.NotFound(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	filter := events.Filter{RunID: r.URL.Query().Get("run_id")}
	id := "sse-" + uuid.NewString()
	ch, err := s.source.SubscribeChan(id, filter, 256)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() { _ = s.source.Unsubscribe(id) }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case event, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn().Err(err).Str("type", string(event.Type)).Msg("encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func readPayload(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxPayloadBytes {
		return nil, errors.New("payload too large")
	}
	if len(body) > 0 && !json.Valid(body) {
		return nil, errors.New("payload is not valid JSON")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
