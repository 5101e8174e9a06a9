package httpapi

import (
	"errors"
	"net/http"

	"github.com/housie-live/housie-live/internal/domain/rules"
	"github.com/housie-live/housie-live/internal/domain/ticket"
)

type evaluateRequest struct {
	GameType string `json:"game_type,omitempty"`
	Pattern  string `json:"pattern"`
	Called   []int  `json:"called"`

	// Either a full grid with zeros for empty cells, or the packed form.
	Serial string  `json:"serial,omitempty"`
	Grid   [][]int `json:"grid,omitempty"`
	Mask   uint64  `json:"mask,omitempty"`
	Rows   int     `json:"rows,omitempty"`
	Cols   int     `json:"cols,omitempty"`
	Values []int   `json:"values,omitempty"`
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	layout, err := layoutFromRequest(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	eval, err := s.manager.Evaluate(req.GameType, layout, req.Called, req.Pattern)
	if err != nil {
		if errors.Is(err, rules.ErrUnknownPattern) {
			respondError(w, http.StatusBadRequest, "UNKNOWN_PATTERN", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, eval)
}

func layoutFromRequest(req evaluateRequest) (*ticket.Layout, error) {
	if len(req.Grid) > 0 {
		return &ticket.Layout{Serial: req.Serial, Rows: req.Grid}, nil
	}
	if req.Rows == 0 && req.Cols == 0 {
		req.Rows = ticket.NinetyBallRows
		req.Cols = ticket.NinetyBallCols
	}
	return ticket.Decode(req.Serial, req.Mask, req.Rows, req.Cols, req.Values)
}
