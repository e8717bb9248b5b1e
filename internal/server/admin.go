package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ppiankov/rpcwarden/internal/api"
	"github.com/ppiankov/rpcwarden/internal/audit"
	"github.com/ppiankov/rpcwarden/internal/config"
	"github.com/ppiankov/rpcwarden/internal/ledger"
	"github.com/ppiankov/rpcwarden/internal/lifecycle"
)

const defaultCallLimit = 50

// AdminHandler serves the management API, /healthz and /metrics.
func (s *Server) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/calls", s.listCalls)
		r.Get("/calls/{id}", s.getCall)
		r.Post("/calls/{id}/approve", s.approveCall)

		r.Get("/accounts", s.listAccounts)
		r.Post("/accounts", s.registerAccount)
		r.Get("/accounts/{id}", s.getAccount)
		r.Get("/accounts/{id}/rewards", s.listRewards)
		r.Post("/accounts/{id}/rewards", s.claimReward)
		r.Post("/accounts/{id}/interactions", s.recordInteraction)
		r.Post("/accounts/{id}/reports", s.reportAccount)
		r.Post("/accounts/{id}/deactivate", s.deactivateAccount)

		r.Get("/treasury", s.getTreasury)
		r.Post("/treasury/fund", s.fundTreasury)
		r.Get("/stats", s.getStats)
	})
	return r
}

func (s *Server) listCalls(w http.ResponseWriter, r *http.Request) {
	limit := defaultCallLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.calls.Calls(limit))
}

func (s *Server) getCall(w http.ResponseWriter, r *http.Request) {
	c, err := s.calls.Call(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) approveCall(w http.ResponseWriter, r *http.Request) {
	c, err := s.calls.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) listAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts := s.ledger.Accounts()
	out := make([]api.Account, len(accounts))
	for i, a := range accounts {
		out[i] = api.FromAccount(a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) registerAccount(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := s.ledger.Register(r.Context(), req.ID, req.DisplayName)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.record(audit.Entry{Kind: audit.KindLedger, Account: acct.ID, Outcome: "registered"})
	writeJSON(w, http.StatusCreated, api.FromAccount(acct))
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Account(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromAccount(acct))
}

func (s *Server) listRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := s.ledger.Rewards(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]api.Reward, len(rewards))
	for i, rw := range rewards {
		out[i] = api.FromReward(rw)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) claimReward(w http.ResponseWriter, r *http.Request) {
	var req api.RewardRequest
	if !decode(w, r, &req) {
		return
	}
	kind, ok := ledger.ParseKind(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", ledger.ErrUnknownInteraction, req.Kind))
		return
	}
	base, err := config.ParseAmount(req.BaseAmount)
	if err != nil || base == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid base_amount %q", req.BaseAmount))
		return
	}

	reward, err := s.ledger.ApplySignificanceReward(r.Context(), chi.URLParam(r, "id"), kind, base, req.Significance)
	if err != nil {
		s.metrics.Reward("rejected")
		writeError(w, statusFor(err), err)
		return
	}
	s.metrics.Reward("paid")
	s.record(audit.Entry{
		Kind:    audit.KindReward,
		Account: reward.AccountID,
		Outcome: "paid",
		Reason:  string(kind) + " " + reward.Band,
		Amount:  reward.FinalAmount.Dec(),
	})
	writeJSON(w, http.StatusCreated, api.FromReward(reward))
}

func (s *Server) recordInteraction(w http.ResponseWriter, r *http.Request) {
	var req api.InteractionRequest
	if !decode(w, r, &req) {
		return
	}
	kind, ok := ledger.ParseKind(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", ledger.ErrUnknownInteraction, req.Kind))
		return
	}
	id := chi.URLParam(r, "id")
	score, err := s.ledger.RecordInteraction(r.Context(), id, kind, req.Weight)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, api.TrustResponse{AccountID: ledger.NormalizeID(id), TrustScore: score})
}

func (s *Server) reportAccount(w http.ResponseWriter, r *http.Request) {
	var req api.ReportRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	score, err := s.ledger.Report(r.Context(), req.Reporter, id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	reported := ledger.NormalizeID(id)
	s.record(audit.Entry{Kind: audit.KindLedger, Account: reported, Outcome: "reported", Reason: "by " + ledger.NormalizeID(req.Reporter)})
	writeJSON(w, http.StatusOK, api.TrustResponse{AccountID: reported, TrustScore: score})
}

func (s *Server) deactivateAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ledger.Deactivate(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	acct, err := s.ledger.Account(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.record(audit.Entry{Kind: audit.KindLedger, Account: acct.ID, Outcome: "deactivated"})
	writeJSON(w, http.StatusOK, api.FromAccount(acct))
}

func (s *Server) getTreasury(w http.ResponseWriter, _ *http.Request) {
	balance := s.ledger.Treasury()
	circulating := s.ledger.TotalCirculating()
	writeJSON(w, http.StatusOK, api.Treasury{Balance: balance.Dec(), Circulating: circulating.Dec()})
}

func (s *Server) fundTreasury(w http.ResponseWriter, r *http.Request) {
	var req api.FundRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := config.ParseAmount(req.Amount)
	if err != nil || amount == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid amount %q", req.Amount))
		return
	}
	balance, err := s.ledger.FundTreasury(r.Context(), amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.record(audit.Entry{Kind: audit.KindLedger, Outcome: "funded", Amount: amount.Dec()})
	circulating := s.ledger.TotalCirculating()
	writeJSON(w, http.StatusOK, api.Treasury{Balance: balance.Dec(), Circulating: circulating.Dec()})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	st := s.ledger.GlobalStats()
	_, hash := s.calls.Policy()
	writeJSON(w, http.StatusOK, api.Stats{
		Circulating:         st.Circulating.Dec(),
		Treasury:            st.Treasury.Dec(),
		TotalInteractions:   st.TotalInteractions,
		AverageSignificance: st.AverageSignificance,
		ActiveParticipants:  st.ActiveParticipants,
		Accounts:            st.Accounts,
		Calls:               s.calls.Stats(),
		PolicyHash:          hash,
	})
}

func (s *Server) record(e audit.Entry) {
	if s.audit == nil {
		return
	}
	if e.Timestamp == "" {
		e.Timestamp = s.now().UTC().Format(audit.TimestampFormat)
	}
	if err := s.audit.Record(e); err != nil {
		s.log.WithError(err).Error("audit write failed")
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, lifecycle.ErrCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyRegistered), errors.Is(err, lifecycle.ErrNotPending),
		errors.Is(err, ledger.ErrInactive):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientTreasury):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrInvalidSignificance), errors.Is(err, ledger.ErrUnknownInteraction),
		errors.Is(err, ledger.ErrSelfReport), errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, ledger.ErrOverflow), errors.Is(err, ledger.ErrCounterOverflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, api.Error{Error: err.Error()})
}
