// Package devserver is a local stand-in for the ride backend: the matching
// REST endpoints, review submission and the /chatroom websocket hub.
package devserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-session/internal/credential"
	"github.com/example/ride-session/internal/logging"
	"github.com/example/ride-session/internal/matchapi"
	"github.com/example/ride-session/internal/matching"
	"github.com/example/ride-session/internal/models"
)

type Server struct {
	Matcher *Matcher
	Hub     *Hub

	signer   *credential.Signer
	pricing  *matching.Pricing
	upgrader websocket.Upgrader
	logger   *slog.Logger
	mux      *mux.Router
}

type Options struct {
	Signer *credential.Signer
	// Pricing validates station ids; DefaultPricing when nil.
	Pricing *matching.Pricing
	Logger  *slog.Logger
}

func NewServer(opts Options) *Server {
	logger := logging.OrDefault(opts.Logger).With("component", "devserver")
	if opts.Pricing == nil {
		opts.Pricing = matching.DefaultPricing()
	}
	m := NewMatcher()
	s := &Server{
		Matcher: m,
		signer:  opts.Signer,
		pricing: opts.Pricing,
		logger:  logger,
		mux:     mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.Hub = NewHub(func(id models.Identity, rideRequestID int64) bool {
		_, ok := m.Member(id.Name, rideRequestID)
		return ok
	}, logger)
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/v1/tokens", s.handleIssueToken).Methods(http.MethodPost)

	s.mux.Handle("/api/v1/matching", s.requireAuth(s.handleRequestMatch)).Methods(http.MethodPost)
	s.mux.Handle("/api/v1/matching/{key}/cancel", s.requireAuth(s.handleCancel)).Methods(http.MethodPost)
	s.mux.Handle("/api/v1/matching/{key}/status", s.requireAuth(s.handleStatus)).Methods(http.MethodGet)
	s.mux.Handle("/api/v1/rides/{id:[0-9]+}/{action:agree|complete|leave}", s.requireAuth(s.handleRideAction)).Methods(http.MethodPost)
	s.mux.Handle("/reviews", s.requireAuth(s.handleReview)).Methods(http.MethodPost)
	s.mux.Handle("/chatroom", s.requireAuth(s.handleChat)).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Close drops every websocket client.
func (s *Server) Close() { s.Hub.Close() }

// handleIssueToken mints a token for any name and role. Development only.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var id models.Identity
	if err := json.NewDecoder(r.Body).Decode(&id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := s.signer.Issue(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleRequestMatch(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	var req matching.MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.pricing.Validate(req.StartPoint, req.EndPoint); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := s.Matcher.Request(id.Name, id.Role, req.StartPoint, req.EndPoint)
	s.logger.Info("match requested", "user", id.Name, "role", id.Role, "key", key)
	writeJSON(w, http.StatusOK, map[string]string{"matchingKey": key})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	if err := s.Matcher.Cancel(id.Name, mux.Vars(r)["key"]); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	report := s.Matcher.Status(id.Name, mux.Vars(r)["key"])
	writeJSON(w, http.StatusOK, map[string]matching.StatusReport{"status": report})
}

func (s *Server) handleRideAction(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	vars := mux.Vars(r)
	rideID, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ride request id")
		return
	}
	switch vars["action"] {
	case "agree":
		err = s.Matcher.Agree(id.Name, rideID)
	case "complete":
		err = s.Matcher.Complete(id.Name, rideID)
	default:
		err = s.Matcher.Leave(id.Name, rideID)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("ride action", "user", id.Name, "ride_request_id", rideID, "action", vars["action"])
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	var rv matchapi.Review
	if err := json.NewDecoder(r.Body).Decode(&rv); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Matcher.Review(id.Name, rv.RideRequestID, rv.Rating); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "user", id.Name, "error", err)
		return
	}
	s.Hub.Serve(conn, id)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoRide):
		return http.StatusNotFound
	case errors.Is(err, ErrNotInRide):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRating):
		return http.StatusBadRequest
	case errors.Is(err, ErrRideEnded), errors.Is(err, ErrNotRiding), errors.Is(err, ErrNotComplete), errors.Is(err, ErrMatched):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
