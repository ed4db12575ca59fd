package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"organlink/internal/identity"
	"organlink/internal/lifecycle"
	"organlink/internal/platform/middleware"
	"organlink/internal/profile"
	"organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

func (h *Handler) caller(ctx context.Context) (identity.Identity, error) {
	return identity.FromClaims(middleware.GetSubjectID(ctx), middleware.GetRole(ctx))
}

func (h *Handler) logDomainError(ctx context.Context, message string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeUnavailable, dErrors.CodeInternal:
		h.logger.ErrorContext(ctx, message,
			"request_id", middleware.GetRequestID(ctx), "error", err.Error())
	default:
		h.logger.WarnContext(ctx, message,
			"request_id", middleware.GetRequestID(ctx), "error", err.Error())
	}
}

// handleSubmitDonation files a donor submission. Donors submit for
// themselves; an admin may submit on a donor's behalf by naming donor_id.
func (h *Handler) handleSubmitDonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := h.caller(ctx)
	if err != nil {
		WriteError(w, err)
		return
	}

	var req submitDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := req.validate(); err != nil {
		WriteError(w, err)
		return
	}

	donorID := domain.DonorID(caller.Subject)
	if req.DonorID != "" {
		parsed, err := identity.Normalize(req.DonorID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if domain.DonorID(parsed) != donorID && !caller.IsAdmin() {
			WriteError(w, dErrors.New(dErrors.CodeForbidden, "donors may only submit for themselves"))
			return
		}
		donorID = domain.DonorID(parsed)
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

	record, err := h.lifecycle.SubmitDonation(ctx, lifecycle.SubmitDonationInput{
		DonorID:    donorID,
		Organ:      organ,
		BloodGroup: bloodGroup,
		Lat:        req.Lat,
		Lon:        req.Lon,
		Tests:      req.Tests,
	})
	if err != nil {
		h.logDomainError(ctx, "submit donation failed", err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toDonationResponse(record))
}

// handleListDonations returns donation records in a given status. Without
// a status filter it serves the pending verification queue.
func (h *Handler) handleListDonations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := h.caller(ctx)
	if err != nil {
		WriteError(w, err)
		return
	}

	status := profile.DonationPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = profile.DonationStatus(raw)
		if !status.IsValid() {
			WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown donation status"))
			return
		}
	}

	records, err := h.lifecycle.ListDonations(ctx, caller, status)
	if err != nil {
		h.logDomainError(ctx, "list donations failed", err)
		WriteError(w, err)
		return
	}
	out := make([]donationResponse, len(records))
	for i, record := range records {
		out[i] = toDonationResponse(record)
	}
	WriteJSON(w, http.StatusOK, out)
}

// handleSetDonationStatus drives the donation state machine from the admin
// console.
func (h *Handler) handleSetDonationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := h.caller(ctx)
	if err != nil {
		WriteError(w, err)
		return
	}

	donationID, err := domain.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	var req donationStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := validateStruct(&req); err != nil {
		WriteError(w, err)
		return
	}

	record, err := h.lifecycle.SetDonationStatus(ctx, caller, donationID, profile.DonationStatus(req.Status), req.Remarks)
	if err != nil {
		h.logDomainError(ctx, "set donation status failed", err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toDonationResponse(record))
}
