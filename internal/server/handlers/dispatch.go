package handlers

import (
	"net/http"

	"github.com/AlexTLDR/evite-checkin/internal/rsvp"
)

type dispatchRequest struct {
	GuestIDs []int64 `json:"guest_ids"`
}

type dispatchResponse struct {
	Results []rsvp.DispatchResult `json:"results"`
}

// HandleDispatch sends entry codes to the confirmed guests of an event. An
// empty body targets every member.
func HandleDispatch(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := pathIDs(r, "eventID")
		if err != nil {
			writeError(s, w, r, err)
			return
		}

		var req dispatchRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(s, w, r, err)
				return
			}
		}

		results, err := s.GetWorkflow().RequestQRDispatch(r.Context(), ids[0], req.GuestIDs...)
		if err != nil {
			writeError(s, w, r, err)
			return
		}
		if results == nil {
			results = []rsvp.DispatchResult{}
		}
		writeJSON(w, http.StatusOK, dispatchResponse{Results: results})
	}
}
