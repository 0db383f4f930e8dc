// Package webapi exposes a read-only HTTP+WebSocket inspection
// endpoint over a cell's CellAgent/PacketEngine state, grounded on
// teacher's websocket.go (gorilla/websocket upgrade handling) and
// server.go's GetStatus pattern (spec.md §4.11). It never writes back
// into CA/PE state - diagnostic only.
package webapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cellfabric/fabric/cellagent"
	"github.com/cellfabric/fabric/packetengine"
	"github.com/gorilla/websocket"
	"github.com/kr/pretty"
	"github.com/montanaflynn/stats"
	graceful "gopkg.in/tylerb/graceful.v1"
)

// Snapshot is the combined point-in-time view served by /dump, /ws,
// and as the source Deliver (cellagent.AppSink) records deliveries
// against, matching spec.md §4.11's "PE's ... routing-table mirror"
// plus "CA's traph summaries" pairing.
type Snapshot struct {
	Status        *Status                  `json:"status"`
	Traphs        []cellagent.TraphSummary `json:"traphs"`
	RoutingTable  []routingEntryJSON       `json:"routing_table"`
	HopStats      hopStats                 `json:"hop_stats"`
	AppDeliveries int                      `json:"app_deliveries"`
}

type routingEntryJSON struct {
	TreeUuid string `json:"tree_uuid"`
	InUse    bool   `json:"in_use"`
	MaySend  bool   `json:"may_send"`
	Parent   int    `json:"parent"`
}

type hopStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// Server is the inspection HTTP server for one cell.
type Server struct {
	CA *cellagent.CellAgent
	PE *packetengine.PacketEngine

	mux      *http.ServeMux
	upgrader websocket.Upgrader
	gs       *graceful.Server
}

// NewServer builds an inspection Server over ca/pe, not yet listening.
func NewServer(ca *cellagent.CellAgent, pe *packetengine.PacketEngine) *Server {
	s := &Server{
		CA:  ca,
		PE:  pe,
		mux: http.NewServeMux(),
		upgrader: websocket.Upgrader{
			EnableCompression: false,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
	}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/dump", s.handleDump)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return s
}

// ListenAndServe starts serving addr, shutting down gracefully (no
// connection is dropped mid-flight) when Shutdown is called -
// grounded on the teacher's go.mod carrying gopkg.in/tylerb/graceful.v1
// with no direct caller; this inspection server is its home.
func (s *Server) ListenAndServe(addr string) error {
	s.gs = &graceful.Server{
		Timeout: 5 * time.Second,
		Server:  &http.Server{Addr: addr, Handler: s.mux},
	}
	return s.gs.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to its Timeout for
// in-flight requests to finish.
func (s *Server) Shutdown() {
	if s.gs == nil {
		return
	}
	s.gs.Stop(s.gs.Timeout)
}

func (s *Server) snapshot() Snapshot {
	traphs := s.CA.Snapshot()

	var hops []float64
	for _, tr := range traphs {
		for _, el := range tr.Elements {
			if el.Connected {
				hops = append(hops, float64(el.Hops))
			}
		}
	}
	var hs hopStats
	if len(hops) > 0 {
		hs.Mean, _ = stats.Mean(hops)
		hs.Median, _ = stats.Median(hops)
		hs.Max, _ = stats.Max(hops)
	}

	var entries []routingEntryJSON
	for _, e := range s.PE.Mirror().Snapshot() {
		entries = append(entries, routingEntryJSON{
			TreeUuid: e.TreeUuid.String(),
			InUse:    e.InUse,
			MaySend:  e.MaySend,
			Parent:   int(e.Parent),
		})
	}

	return Snapshot{
		Status:        BuildStatus(),
		Traphs:        traphs,
		RoutingTable:  entries,
		HopStats:      hs,
		AppDeliveries: s.CA.NoAppDeliveries(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, BuildStatus())
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	pretty.Fprintf(w, "%# v\n", s.snapshot())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
