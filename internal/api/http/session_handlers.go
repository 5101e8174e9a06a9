package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	appSync "github.com/housie-live/housie-live/internal/application/sync"
	"github.com/housie-live/housie-live/internal/application/supervisor"
	"github.com/housie-live/housie-live/internal/domain/claim"
	"github.com/housie-live/housie-live/internal/domain/ledger"
	"github.com/housie-live/housie-live/internal/infrastructure/sse"
)

type openSessionRequest struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
	Role      string `json:"role,omitempty"`
}

type callItemRequest struct {
	Value int `json:"value"`
}

type raiseClaimRequest struct {
	PlayerID     string `json:"player_id"`
	TicketSerial string `json:"ticket_serial"`
	Pattern      string `json:"pattern"`
}

type resolveClaimRequest struct {
	Decision string `json:"decision"`
	Global   bool   `json:"global,omitempty"`
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	role := appSync.RolePlayer
	if req.Role == string(appSync.RoleCaller) {
		role = appSync.RoleCaller
	}
	sess, created, err := s.manager.Open(req.SessionID, req.PlayerID, role)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if created {
		s.wireSession(req.SessionID, sess)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": req.SessionID,
		"created":    created,
		"ledger":     sess.Snapshot(),
	})
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	s.manager.Close(sessionID)
	respondJSON(w, http.StatusOK, map[string]interface{}{"session_id": sessionID, "status": "closed"})
}

func (s *Server) getLedger(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) callItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req callItemRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	item, err := sess.CallItem(req.Value)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateItem) {
			respondError(w, http.StatusConflict, "DUPLICATE_ITEM", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sess.Reset())
}

func (s *Server) raiseClaim(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req raiseClaimRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	rec, err := sess.RaiseClaim(r.Context(), req.PlayerID, req.TicketSerial, req.Pattern)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) listClaims(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	recs, err := sess.Claims().ListBySession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"claims": recs})
}

func (s *Server) resolveClaim(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	claimID, err := parseUUIDParam(r, "claimId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid claimId")
		return
	}
	var req resolveClaimRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	decision := claim.Decision(req.Decision)
	if decision != claim.DecisionValid && decision != claim.DecisionInvalid {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "decision must be VALID or INVALID")
		return
	}
	rec, err := sess.Claims().Resolve(r.Context(), claimID, decision, req.Global)
	if err != nil {
		s.respondClaimError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) acknowledgeClaim(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	claimID, err := parseUUIDParam(r, "claimId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid claimId")
		return
	}
	rec, err := sess.Claims().Acknowledge(r.Context(), claimID)
	if err != nil {
		s.respondClaimError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) respondClaimError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, claim.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, claim.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*appSync.Session, bool) {
	sessionID := chi.URLParam(r, "sessionId")
	sess := s.manager.Get(sessionID)
	if sess == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "session not open on this replica")
		return nil, false
	}
	return sess, true
}

// wireSession forwards engine events for a newly opened session to the SSE
// hub so connected UIs see ledger, claim and channel updates live.
func (s *Server) wireSession(sessionID string, sess *appSync.Session) {
	sess.OnLedgerChange(func(state ledger.State) {
		data, err := json.Marshal(state)
		if err != nil {
			return
		}
		s.sseHub.BroadcastToSession(sessionID, sse.NewMessage("ledger", data))
	})
	sess.OnClaimChange(func(rec claim.Record) {
		data, err := json.Marshal(rec)
		if err != nil {
			return
		}
		s.sseHub.BroadcastToSession(sessionID, sse.NewMessage("claim", data))
	})
	sess.OnChannelStatus(func(channel string, state supervisor.State, attempt int) {
		data, err := json.Marshal(map[string]interface{}{
			"channel": channel,
			"state":   string(state),
			"attempt": attempt,
		})
		if err != nil {
			return
		}
		s.sseHub.BroadcastToSession(sessionID, sse.NewMessage("channel", data))
	})
}
