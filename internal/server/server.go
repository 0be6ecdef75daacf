// Package server exposes the automation engine over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/delphi-lab/delphi-trading/internal/engine"
	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/rules"
	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

// DefaultApprover is recorded on approvals that arrive without a caller
// identity.
const DefaultApprover = "api"

// Server serves the trading API. Trigger endpoints (cycle, reconcile) run the
// pipeline synchronously; the rest read or mutate proposal and settings state.
type Server struct {
	log    *logger.Logger
	engine *engine.Engine
	loader *rules.Loader

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates an API server around an engine.
func NewServer(eng *engine.Engine, loader *rules.Loader, log *logger.Logger) *Server {
	return &Server{
		log:        log,
		engine:     eng,
		loader:     loader,
		httpServer: nil,
		listener:   nil,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/cycle", s.handleCycle).Methods("POST")
	api.HandleFunc("/reconcile", s.handleReconcile).Methods("POST")
	api.HandleFunc("/proposals", s.handleListProposals).Methods("GET")
	api.HandleFunc("/proposals/{id}", s.handleGetProposal).Methods("GET")
	api.HandleFunc("/proposals/{id}/approve", s.handleApproveProposal).Methods("POST")
	api.HandleFunc("/proposals/{id}/reject", s.handleRejectProposal).Methods("POST")
	api.HandleFunc("/proposals/{id}/execute", s.handleExecuteProposal).Methods("POST")
	api.HandleFunc("/signals", s.handleSignals).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/positions", s.handlePositions).Methods("GET")
	api.HandleFunc("/trades", s.handleTrades).Methods("GET")
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods("PUT")
	api.HandleFunc("/rules/reload", s.handleReloadRules).Methods("POST")

	return router
}

// Start listens on the given address and serves in the background. An empty
// address picks a random port.
func (s *Server) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to listen on %s", address)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			s.log.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	s.log.Info("API server listening", zap.String("address", s.Address()))

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Address returns the bound listen address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	result, err := s.engine.ProcessCycle(r.Context(), force)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Reconcile(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals := s.engine.Lifecycle().List()

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]types.TradeProposal, 0, len(proposals))
		for _, proposal := range proposals {
			if string(proposal.Status) == status {
				filtered = append(filtered, proposal)
			}
		}
		proposals = filtered
	}

	s.writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposal, err := s.engine.Lifecycle().Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleApproveProposal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ApprovedBy string `json:"approvedBy"`
	}
	// An empty body approves as the default identity.
	_ = json.NewDecoder(r.Body).Decode(&body)

	if body.ApprovedBy == "" {
		body.ApprovedBy = DefaultApprover
	}

	proposal, err := s.engine.Lifecycle().Approve(r.Context(), mux.Vars(r)["id"], body.ApprovedBy)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleRejectProposal(w http.ResponseWriter, r *http.Request) {
	proposal, err := s.engine.Lifecycle().Reject(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleExecuteProposal(w http.ResponseWriter, r *http.Request) {
	proposal, err := s.engine.Lifecycle().Execute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	limit := engine.DefaultHistoryCapacity
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, errors.Newf(errors.ErrCodeInvalidParameter, "invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	s.writeJSON(w, http.StatusOK, s.engine.History().Recent(limit))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Lifecycle().Stats())
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Lifecycle().TrackedPositions())
}

func (s *Server) handleTrades(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Lifecycle().Ledger())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Settings())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings types.AutomationSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid settings payload", err))
		return
	}

	if err := s.engine.UpdateSettings(r.Context(), settings); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.engine.Settings())
}

func (s *Server) handleReloadRules(w http.ResponseWriter, _ *http.Request) {
	ruleSet, err := s.loader.Reload()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"version": ruleSet.Version,
		"rules":   len(ruleSet.Rules),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(code))

	payload := map[string]any{
		"error": err.Error(),
		"code":  int(code),
	}
	if encodeErr := json.NewEncoder(w).Encode(payload); encodeErr != nil {
		s.log.Error("Failed to encode error response", zap.Error(encodeErr))
	}
}

// httpStatus maps error codes to HTTP statuses. Unknown codes map to 500.
func httpStatus(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeProposalNotFound, errors.ErrCodeStateNotFound, errors.ErrCodePositionNotFound:
		return http.StatusNotFound
	case errors.ErrCodeIllegalTransition, errors.ErrCodeProposalExpired:
		return http.StatusConflict
	case errors.ErrCodeCycleThrottled:
		return http.StatusTooManyRequests
	case errors.ErrCodeInvalidParameter, errors.ErrCodeInvalidConfiguration,
		errors.ErrCodeInvalidOrder, errors.ErrCodeInvalidRiskLimits:
		return http.StatusBadRequest
	case errors.ErrCodeStaleData, errors.ErrCodeMockData, errors.ErrCodeBrokerUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
