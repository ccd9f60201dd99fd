package opsdash

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"xtbridge/internal/engine"
	"xtbridge/internal/health"
	"xtbridge/internal/metrics"
)

// Snapshot is one broadcast frame: engine status, process-wide metrics, and
// the most recent health heartbeat (omitted if no HealthReporter is wired in
// or it hasn't ticked yet).
type Snapshot struct {
	TS      string             `json:"ts"`
	Status  []engine.KeyStatus `json:"status"`
	Metrics map[string]int64   `json:"metrics"`
	Health  *health.Record     `json:"health,omitempty"`
}

// Broadcaster ticks once a second, building a Snapshot from the engine,
// global metrics, and (if present) the health reporter's last heartbeat, and
// pushing it to every connected viewer.
type Broadcaster struct {
	hub      *Hub
	eng      *engine.Engine
	reporter *health.Reporter
}

// NewBroadcaster builds a Broadcaster over hub, reading from eng and,
// optionally, reporter. reporter may be nil when health reporting is
// disabled — the snapshot simply omits the health field.
func NewBroadcaster(hub *Hub, eng *engine.Engine, reporter *health.Reporter) *Broadcaster {
	return &Broadcaster{hub: hub, eng: eng, reporter: reporter}
}

// Run ticks until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Broadcaster) tick() {
	snap := b.snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	b.hub.Broadcast(payload)
}

func (b *Broadcaster) snapshot() Snapshot {
	snap := Snapshot{
		TS:      time.Now().Format(time.RFC3339),
		Status:  b.eng.Status(),
		Metrics: metrics.SnapshotGlobal(),
	}
	if b.reporter != nil {
		if rec, ok := b.reporter.LastRecord(); ok {
			snap.Health = &rec
		}
	}
	return snap
}

// Server is the HTTP surface: /ws for the dashboard feed, /healthz for a
// trivial liveness probe.
type Server struct {
	hub *Hub
	log zerolog.Logger
	srv *http.Server
}

// NewServer builds a Server listening on addr.
func NewServer(addr string, hub *Hub, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{
		hub: hub,
		log: log,
		srv: &http.Server{Addr: addr, Handler: mux},
	}
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
