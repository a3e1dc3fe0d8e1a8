package handlers

import (
	"net/http"
	"strings"

	"github.com/AlexTLDR/evite-checkin/internal/errs"
)

type checkInRequest struct {
	Code string `json:"code"`
}

// HandleCheckIn redeems a scanned code at the door.
func HandleCheckIn(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := pathIDs(r, "eventID")
		if err != nil {
			writeError(s, w, r, err)
			return
		}

		var req checkInRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(s, w, r, err)
			return
		}
		code := strings.TrimSpace(req.Code)
		if code == "" {
			writeError(s, w, r, errs.New(errs.KindInvalidArgument, "code is required"))
			return
		}

		admission, err := s.GetGateway().Redeem(r.Context(), code, ids[0])
		if err != nil {
			writeError(s, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, admission)
	}
}
