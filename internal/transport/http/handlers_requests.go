package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"organlink/internal/identity"
	"organlink/internal/lifecycle"
	"organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

// handleSubmitRequest files a patient organ request and triggers the
// initial scoring pass.
func (h *Handler) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := h.caller(ctx)
	if err != nil {
		WriteError(w, err)
		return
	}

	var req submitPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := req.validate(); err != nil {
		WriteError(w, err)
		return
	}

	patientID := domain.PatientID(caller.Subject)
	if req.PatientID != "" {
		parsed, err := identity.Normalize(req.PatientID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if domain.PatientID(parsed) != patientID && !caller.IsAdmin() {
			WriteError(w, dErrors.New(dErrors.CodeForbidden, "patients may only file requests for themselves"))
			return
		}
		patientID = domain.PatientID(parsed)
	}

	organ, err := domain.ParseOrgan(req.Organ)
	if err != nil {
		WriteError(w, err)
		return
	}
	bloodGroup, err := domain.ParseBloodGroup(req.BloodGroup)
	if err != nil {
		WriteError(w, err)
		return
	}

	request, err := h.lifecycle.SubmitPatientRequest(ctx, lifecycle.SubmitRequestInput{
		PatientID:  patientID,
		Organ:      organ,
		BloodGroup: bloodGroup,
		Lat:        req.Lat,
		Lon:        req.Lon,
		Tests:      req.Tests,
		Consent:    req.Consent,
	})
	if err != nil {
		h.logDomainError(ctx, "submit patient request failed", err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toRequestResponse(request))
}

// handleGetRequest returns one patient request with its score snapshot.
func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	request, err := h.lifecycle.GetRequest(ctx, requestID)
	if err != nil {
		h.logDomainError(ctx, "get patient request failed", err)
		WriteError(w, err)
		return
	}
	if err := h.authorizeRequestAccess(ctx, request.PatientID); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toRequestResponse(request))
}

// handleGetRanking computes a fresh read-only ranking for a request. The
// persisted snapshot is untouched; this is the full ordered view behind
// the best-match summary.
func (h *Handler) handleGetRanking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	request, err := h.lifecycle.GetRequest(ctx, requestID)
	if err != nil {
		h.logDomainError(ctx, "get patient request failed", err)
		WriteError(w, err)
		return
	}
	if err := h.authorizeRequestAccess(ctx, request.PatientID); err != nil {
		WriteError(w, err)
		return
	}

	ranked, err := h.ranking.Rank(ctx, request)
	if err != nil {
		h.logDomainError(ctx, "ranking failed", err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toRankingResponse(ranked))
}

// handleCreateMatch files a pending match for a request, against the named
// donation or the ranked best donor.
func (h *Handler) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := h.caller(ctx)
	if err != nil {
		WriteError(w, err)
		return
	}

	requestID, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	var req createMatchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}
	var donationID domain.DonationID
	if req.DonationID != "" {
		donationID, err = domain.ParseDonationID(req.DonationID)
		if err != nil {
			WriteError(w, err)
			return
		}
	}

	created, err := h.arbiter.CreateMatch(ctx, caller, requestID, donationID)
	if err != nil {
		h.logDomainError(ctx, "create match failed", err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toMatchResponse(created))
}

// authorizeRequestAccess restricts request reads to the owning patient and
// admins.
func (h *Handler) authorizeRequestAccess(ctx context.Context, patientID domain.PatientID) error {
	caller, err := h.caller(ctx)
	if err != nil {
		return err
	}
	if caller.IsAdmin() || domain.PatientID(caller.Subject) == patientID {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, "request belongs to another patient")
}
