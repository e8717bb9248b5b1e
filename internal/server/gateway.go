package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ppiankov/rpcwarden/internal/jsonrpc"
)

// GatewayHandler serves JSON-RPC over HTTP POST on every path.
func (s *Server) GatewayHandler() http.Handler {
	return http.HandlerFunc(s.handleRPC)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeRPCError(w, http.StatusMethodNotAllowed, jsonrpc.CodeInvalidRequest, "method not allowed")
		return
	}
	if !s.limiter.Allow(clientIP(r)) {
		s.metrics.RateLimited()
		writeRPCError(w, http.StatusTooManyRequests, jsonrpc.CodeLimitExceeded, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeRPCError(w, http.StatusRequestEntityTooLarge, jsonrpc.CodeInvalidRequest, "request body too large")
			return
		}
		writeRPCError(w, http.StatusBadRequest, jsonrpc.CodeParseError, "failed to read request body")
		return
	}

	out, err := s.calls.Handle(r.Context(), body)
	if err != nil {
		s.log.WithError(err).Error("encode gateway response")
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.CodeInternalError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func writeRPCError(w http.ResponseWriter, status, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewError(nil, code, msg, nil))
}
