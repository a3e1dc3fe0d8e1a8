package handlers

import (
	"net/http"

	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/errs"
	"github.com/AlexTLDR/evite-checkin/internal/rsvp"
)

type rsvpRequest struct {
	GuestID        int64  `json:"guest_id"`
	Response       string `json:"response"`
	CompanionEmail string `json:"companion_email"`
}

type rsvpWarning struct {
	Step string    `json:"step"`
	Kind errs.Kind `json:"kind"`
}

type rsvpResponse struct {
	InvitationID int64         `json:"invitation_id"`
	Status       string        `json:"status"`
	Response     string        `json:"response"`
	CompanionID  int64         `json:"companion_id,omitempty"`
	CodesIssued  int           `json:"codes_issued"`
	Warnings     []rsvpWarning `json:"warnings,omitempty"`
}

// HandleRSVPSubmit records a guest's response to an event invitation.
func HandleRSVPSubmit(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := pathIDs(r, "eventID")
		if err != nil {
			writeError(s, w, r, err)
			return
		}

		var req rsvpRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(s, w, r, err)
			return
		}

		result, err := s.GetWorkflow().SubmitResponse(r.Context(), rsvp.Submission{
			GuestID:        req.GuestID,
			EventID:        ids[0],
			Response:       database.Response(req.Response),
			CompanionEmail: req.CompanionEmail,
		})
		if err != nil {
			writeError(s, w, r, err)
			return
		}

		resp := rsvpResponse{
			InvitationID: result.Invitation.ID,
			Status:       string(result.Invitation.Status),
			Response:     result.Invitation.Response.String,
			CodesIssued:  len(result.Codes),
		}
		if result.Companion != nil {
			resp.CompanionID = result.Companion.ID
		}
		for _, warning := range result.Warnings {
			resp.Warnings = append(resp.Warnings, rsvpWarning{Step: warning.Step, Kind: warning.Kind})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleMarkOpened records that the guest opened their invitation.
func HandleMarkOpened(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := pathIDs(r, "eventID", "guestID")
		if err != nil {
			writeError(s, w, r, err)
			return
		}

		inv, err := s.GetWorkflow().MarkOpened(r.Context(), ids[1], ids[0])
		if err != nil {
			writeError(s, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"invitation_id": inv.ID,
			"status":        inv.Status,
			"opened_at":     timePtr(inv.OpenedAt),
		})
	}
}
