// Package status exposes a read-only HTTP view of one running station's
// connection, discovery, and registry state (spec.md §8 operational
// surface), the same kind of side-channel introspection klaytn's api/debug
// package gives operators, built on httprouter and CORS instead of the
// JSON-RPC stack.
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/stationbridge/bridge/log"
	"github.com/stationbridge/bridge/registry"
)

var logger = log.NewModuleLogger(log.Bridge)

// ConnectionView is one peer connection as reported to operators.
type ConnectionView struct {
	PeerID       string    `json:"peerId"`
	Status       string    `json:"status"`
	ConnType     string    `json:"connType"`
	LastActivity time.Time `json:"lastActivity"`
}

// PeerView is one directory-discovered station.
type PeerView struct {
	StationID string    `json:"stationId"`
	IP        string    `json:"ip"`
	Port      int       `json:"port"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Source supplies the live state status renders. cmd/bridge implements it by
// adapting a wiring.Stack; bridge.Client and discovery.Client return their
// own types and do not satisfy it directly.
type Source interface {
	Connections() []ConnectionRef
	KnownPeers() []PeerView
	NodesByStation(stationID string) ([]registry.Node, error)
	RegistryVersion() int64
}

// ConnectionRef is the minimal connection shape Source.Connections needs,
// decoupled from the concrete p2p.Connection type so this package doesn't
// import networks/p2p.
type ConnectionRef struct {
	PeerID       string
	Status       string
	ConnType     string
	LastActivity time.Time
}

// Server is the read-only status HTTP endpoint.
type Server struct {
	stationID string
	source    Source
	httpSrv   *http.Server
}

// New builds a status server bound to addr, not yet listening.
func New(stationID, addr string, source Source) *Server {
	router := httprouter.New()
	s := &Server{stationID: stationID, source: source}

	router.GET("/status/connections", s.handleConnections)
	router.GET("/status/peers", s.handlePeers)
	router.GET("/status/registry", s.handleRegistry)
	router.GET("/healthz", s.handleHealthz)

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	s.httpSrv = &http.Server{Addr: addr, Handler: handler}
	return s
}

// Start begins serving in a background goroutine. Listen errors other than
// a clean shutdown are logged, not returned, matching the fire-and-forget
// shape of the other background loops in this module.
func (s *Server) Start() {
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server stopped", "err", err)
		}
	}()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	return s.httpSrv.Close()
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, s.source.Connections())
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, s.source.KnownPeers())
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stationID := r.URL.Query().Get("stationId")
	if stationID == "" {
		stationID = s.stationID
	}
	nodes, err := s.source.NodesByStation(stationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Version int64           `json:"registryVersion"`
		Nodes   []registry.Node `json:"nodes"`
	}{Version: s.source.RegistryVersion(), Nodes: nodes})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("status response encode failed", "err", err)
	}
}
