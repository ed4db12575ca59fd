package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"organlink/internal/match"
	"organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

// handleGetMatch returns one match. Visible to admins and the two parties.
func (h *Handler) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := h.caller(ctx)
	if err != nil {
		WriteError(w, err)
		return
	}

	matchID, err := domain.ParseMatchID(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	m, err := h.arbiter.GetMatch(ctx, matchID)
	if err != nil {
		h.logDomainError(ctx, "get match failed", err)
		WriteError(w, err)
		return
	}
	if !caller.IsAdmin() &&
		domain.PatientID(caller.Subject) != m.PatientID &&
		domain.DonorID(caller.Subject) != m.DonorID {
		WriteError(w, dErrors.New(dErrors.CodeForbidden, "match belongs to other parties"))
		return
	}
	WriteJSON(w, http.StatusOK, toMatchResponse(m))
}

// handleApproveMatch finalizes a pending match.
func (h *Handler) handleApproveMatch(w http.ResponseWriter, r *http.Request) {
	h.decideMatch(w, r, true)
}

// handleRejectMatch turns down a pending match.
func (h *Handler) handleRejectMatch(w http.ResponseWriter, r *http.Request) {
	h.decideMatch(w, r, false)
}

func (h *Handler) decideMatch(w http.ResponseWriter, r *http.Request, approve bool) {
	ctx := r.Context()
	caller, err := h.caller(ctx)
	if err != nil {
		WriteError(w, err)
		return
	}

	matchID, err := domain.ParseMatchID(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	var req matchDecisionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}

	var decided match.Match
	if approve {
		decided, err = h.arbiter.Approve(ctx, caller, matchID, req.Remarks)
	} else {
		decided, err = h.arbiter.Reject(ctx, caller, matchID, req.Remarks)
	}
	if err != nil {
		h.logDomainError(ctx, "match decision failed", err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toMatchResponse(decided))
}
