package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalcache/internal/cache"
	"github.com/sawpanic/signalcache/internal/mutate"
	"github.com/sawpanic/signalcache/internal/persistence"
	"github.com/sawpanic/signalcache/internal/stream"
)

// Config wires the consumer-facing surface. Journal, Engine and Prom
// are optional; their endpoints 404 or are omitted when absent.
type Config struct {
	Store   *cache.Store
	Manager *stream.Manager
	Engine  *mutate.Engine
	Journal *persistence.Journal
	Prom    *prometheus.Registry
}

// Server exposes cache and connection state over HTTP, plus the saved
// toggle, which routes through the optimistic mutation engine.
type Server struct {
	cfg    Config
	router *mux.Router
}

func NewServer(cfg Config) *Server {
	s := &Server{cfg: cfg, router: mux.NewRouter()}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/signals/{id}", s.handleDetail).Methods(http.MethodGet)
	s.router.HandleFunc("/signals/{id}/saved", s.handleToggleSaved).Methods(http.MethodPost)
	s.router.HandleFunc("/lists", s.handleLists).Methods(http.MethodGet)
	s.router.HandleFunc("/aggregate", s.handleAggregate).Methods(http.MethodGet)
	s.router.HandleFunc("/events/{scope}", s.handleEvents).Methods(http.MethodGet)
	if cfg.Prom != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(cfg.Prom, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the routable surface.
func (s *Server) Handler() http.Handler { return s.router }

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message, Timestamp: time.Now()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

type scopeStatus struct {
	Scope     string     `json:"scope"`
	State     string     `json:"state"`
	Connected bool       `json:"connected"`
	Error     string     `json:"error,omitempty"`
	LastEvent *lastEvent `json:"last_event,omitempty"`
	Attempts  int        `json:"attempts"`
}

type lastEvent struct {
	Kind       string    `json:"kind"`
	SignalID   string    `json:"signal_id"`
	ReceivedAt time.Time `json:"received_at"`
}

type statusResponse struct {
	AnyOpen    bool          `json:"any_open"`
	AnyErrored bool          `json:"any_errored"`
	Scopes     []scopeStatus `json:"scopes"`
	Timestamp  time.Time     `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		AnyOpen:    s.cfg.Manager.AnyOpen(),
		AnyErrored: s.cfg.Manager.AnyErrored(),
		Scopes:     []scopeStatus{},
		Timestamp:  time.Now(),
	}
	for _, scope := range s.cfg.Manager.Scopes() {
		st := s.cfg.Manager.Status(scope)
		ss := scopeStatus{
			Scope:     st.Scope,
			State:     string(st.State),
			Connected: st.Connected,
			Attempts:  st.Attempts,
		}
		if st.Err != nil {
			ss.Error = st.Err.Error()
		}
		if st.LastEvent != nil {
			ss.LastEvent = &lastEvent{
				Kind:       string(st.LastEvent.Kind),
				SignalID:   st.LastEvent.Signal.ID,
				ReceivedAt: st.LastEvent.ReceivedAt,
			}
		}
		resp.Scopes = append(resp.Scopes, ss)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, ok := s.cfg.Store.GetDetail(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_cached", "no detail record for "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"signal":     entry.Signal,
		"fetched_at": entry.FetchedAt,
		"stale":      entry.Stale,
	})
}

type listSummary struct {
	Fingerprint string    `json:"fingerprint"`
	Signals     int       `json:"signals"`
	TotalCount  int       `json:"total_count"`
	FetchedAt   time.Time `json:"fetched_at"`
	Stale       bool      `json:"stale"`
}

func (s *Server) handleLists(w http.ResponseWriter, r *http.Request) {
	summaries := []listSummary{}
	for _, fp := range s.cfg.Store.ListFingerprints() {
		if entry, ok := s.cfg.Store.GetList(fp); ok {
			summaries = append(summaries, listSummary{
				Fingerprint: string(fp),
				Signals:     len(entry.Result.Signals),
				TotalCount:  entry.Result.TotalCount,
				FetchedAt:   entry.FetchedAt,
				Stale:       entry.Stale,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lists": summaries, "timestamp": time.Now()})
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.cfg.Store.GetAggregate()
	if !ok {
		writeError(w, http.StatusNotFound, "not_cached", "no aggregate fetched yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"aggregate":  entry.Aggregate,
		"fetched_at": entry.FetchedAt,
		"stale":      entry.Stale,
	})
}

func (s *Server) handleToggleSaved(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Engine == nil {
		writeError(w, http.StatusNotFound, "mutations_disabled", "mutation engine is not configured")
		return
	}
	id := mux.Vars(r)["id"]
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing_user", "user query parameter is required")
		return
	}
	saved, err := s.cfg.Engine.ToggleSaved(r.Context(), id, user)
	if err != nil {
		if errors.Is(err, mutate.ErrMutationInFlight) {
			writeError(w, http.StatusConflict, "mutation_in_flight", err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "mutation_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"signal_id": id, "saved": saved})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeError(w, http.StatusNotFound, "journal_disabled", "event journal is not configured")
		return
	}
	scope := mux.Vars(r)["scope"]
	entries, err := s.cfg.Journal.Recent(r.Context(), scope, 50)
	if err != nil {
		log.Error().Err(err).Str("scope", scope).Msg("Journal read failed")
		writeError(w, http.StatusInternalServerError, "journal_error", "failed to read event journal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scope": scope, "events": entries})
}
