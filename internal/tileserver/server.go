package tileserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"tripmap-offline/internal/downloader"
	"tripmap-offline/internal/netstatus"
	"tripmap-offline/internal/offline"
	"tripmap-offline/internal/reconnect"
	"tripmap-offline/internal/storage"
)

// Deps are the components the HTTP surface exposes
type Deps struct {
	Controller *offline.Controller
	Feed       *offline.MemoryFeed
	Store      *storage.Store
	Downloader *downloader.Downloader
	Queue      *downloader.Queue
	Monitor    *netstatus.Monitor
	Reconnect  *reconnect.Coordinator
	Manual     *netstatus.ManualSource // nil when connectivity is probed by dialing
}

// Server is the local HTTP server used by the rendering layer
type Server struct {
	Deps
	log *logrus.Entry

	mu         sync.Mutex
	httpServer *http.Server
	serverURL  string
}

// NewServer creates a server; call Start to listen
func NewServer(deps Deps, log *logrus.Entry) *Server {
	return &Server{
		Deps: deps,
		log:  log.WithField("component", "tileserver"),
	}
}

// URL returns the base URL once started
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverURL
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/tiles/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}", s.handleTile).Methods("GET")

	r.HandleFunc("/areas", s.handleListAreas).Methods("GET")
	r.HandleFunc("/areas", s.handleStartDownload).Methods("POST")
	r.HandleFunc("/areas/estimate", s.handleEstimate).Methods("GET")
	r.HandleFunc("/areas/{id}", s.handleGetArea).Methods("GET")
	r.HandleFunc("/areas/{id}", s.handleDeleteArea).Methods("DELETE")
	r.HandleFunc("/areas/{id}/progress", s.handleProgress).Methods("GET")
	r.HandleFunc("/areas/{id}/progress", s.handleAcknowledge).Methods("DELETE")
	r.HandleFunc("/areas/{id}/cancel", s.handleCancel).Methods("POST")

	r.HandleFunc("/network", s.handleNetworkStatus).Methods("GET")
	r.HandleFunc("/network", s.handleSetNetwork).Methods("POST")
	r.HandleFunc("/network/retry", s.handleRetry).Methods("POST")

	r.HandleFunc("/locations", s.handleGetLocations).Methods("GET")
	r.HandleFunc("/locations", s.handlePutLocations).Methods("PUT")
	r.HandleFunc("/groups/{id}/meetup", s.handleGetMeetup).Methods("GET")
	r.HandleFunc("/groups/{id}/meetup", s.handlePutMeetup).Methods("PUT")
	r.HandleFunc("/coverage", s.handleCoverage).Methods("GET")

	r.HandleFunc("/storage", s.handleStorage).Methods("GET")
	r.HandleFunc("/storage", s.handleClearStorage).Methods("DELETE")

	return r
}

// Handler wraps the router with CORS and access logging
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Accept"}),
	)
	return handlers.LoggingHandler(s.log.WriterLevel(logrus.DebugLevel), cors(s.Router()))
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in the background
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start tile server: %w", err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.serverURL = "http://" + listener.Addr().String()
	s.httpServer = httpServer
	s.mu.Unlock()
	s.log.Infof("Tile server started on %s", listener.Addr())

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Tile server stopped")
		}
	}()
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
