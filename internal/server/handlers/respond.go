package handlers

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/AlexTLDR/evite-checkin/internal/errs"
	"github.com/AlexTLDR/evite-checkin/internal/i18n"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`
	UsedAt  string    `json:"used_at,omitempty"`
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidArgument:
		return http.StatusBadRequest
	case errs.KindNotAMember:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindAlreadyUsed:
		return http.StatusConflict
	case errs.KindDispatchFailed:
		return http.StatusBadGateway
	case errs.KindStoreError:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as a localized JSON error. Internal messages are
// logged, never returned.
func writeError(s Server, w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)

	entry := s.GetLogger().WithField("kind", kind).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	body := errorBody{
		Kind:    kind,
		Message: i18n.ErrorMessage(i18n.GetLanguageFromRequest(r), err, s.GetConfig().Location()),
	}
	if usedAt, ok := errs.UsedAt(err); ok {
		body.UsedAt = usedAt.Format(time.RFC3339)
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return errs.New(errs.KindInvalidArgument, "empty request body")
		}
		return errs.Wrap(errs.KindInvalidArgument, "invalid request body", err)
	}
	return nil
}

// parseID parses an ID string and returns an error if invalid
func parseID(idStr string) (int64, error) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, errs.Wrap(errs.KindInvalidArgument, "invalid ID format", err)
	}
	if id <= 0 {
		return 0, errs.New(errs.KindInvalidArgument, "invalid ID: must be positive")
	}
	return id, nil
}

// pathIDs parses the named path values as IDs.
func pathIDs(r *http.Request, names ...string) ([]int64, error) {
	ids := make([]int64, len(names))
	for i, name := range names {
		id, err := parseID(r.PathValue(name))
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
