package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/errs"
	"github.com/AlexTLDR/evite-checkin/internal/utils"
)

func storeErr(op string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return errs.Wrap(errs.KindNotFound, op, err)
	}
	return errs.Wrap(errs.KindStoreError, op, err)
}

func storeCtx(s Server, r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.GetConfig().StoreTimeout)
}

type guestRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Phone     string `json:"phone"`
	VIP       bool   `json:"is_vip"`
}

type guestView struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Company     string `json:"company,omitempty"`
	Position    string `json:"position,omitempty"`
	Phone       string `json:"phone,omitempty"`
	VIP         bool   `json:"is_vip"`
	Companion   bool   `json:"is_companion"`
	CompanionOf int64  `json:"companion_of,omitempty"`
}

func newGuestView(g *database.Guest) guestView {
	return guestView{
		ID:          g.ID,
		Email:       g.Email,
		FirstName:   g.FirstName,
		LastName:    g.LastName,
		Company:     g.Company.String,
		Position:    g.Position.String,
		Phone:       g.Phone.String,
		VIP:         g.IsVIP,
		Companion:   g.IsCompanion,
		CompanionOf: g.CompanionOf.Int64,
	}
}

// parseGuest validates the guest payload and normalizes the phone number
func parseGuest(req guestRequest, region string) (*database.Guest, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "invalid email", err)
	}
	firstName := strings.TrimSpace(req.FirstName)
	if firstName == "" {
		return nil, errs.New(errs.KindInvalidArgument, "first name is required")
	}

	g := &database.Guest{
		Email:     addr.Address,
		FirstName: firstName,
		LastName:  strings.TrimSpace(req.LastName),
		Company:   nullString(req.Company),
		Position:  nullString(req.Position),
		IsVIP:     req.VIP,
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		normalized, err := utils.NormalizePhoneNumber(phone, region)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidArgument, "invalid phone number", err)
		}
		g.Phone = nullString(normalized)
	}
	return g, nil
}

// HandleCreateGuest adds a guest to the directory. An existing email returns
// the stored guest unchanged.
func HandleCreateGuest(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req guestRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(s, w, r, err)
			return
		}
		g, err := parseGuest(req, s.GetConfig().PhoneRegion)
		if err != nil {
			writeError(s, w, r, err)
			return
		}

		ctx, cancel := storeCtx(s, r)
		defer cancel()
		guest, created, err := s.GetDB().UpsertGuestByEmail(ctx, g)
		if err != nil {
			writeError(s, w, r, storeErr("create guest", err))
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, newGuestView(guest))
	}
}

type eventRequest struct {
	Name        string `json:"name"`
	StartsAt    string `json:"starts_at"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Capacity    int64  `json:"capacity"`
}

type eventView struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	StartsAt    time.Time `json:"starts_at"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Capacity    int64     `json:"capacity,omitempty"`
}

// HandleCreateEvent adds an event.
func HandleCreateEvent(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req eventRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(s, w, r, err)
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			writeError(s, w, r, errs.New(errs.KindInvalidArgument, "name is required"))
			return
		}
		startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			writeError(s, w, r, errs.Wrap(errs.KindInvalidArgument, "starts_at must be RFC 3339", err))
			return
		}
		if req.Capacity < 0 {
			writeError(s, w, r, errs.New(errs.KindInvalidArgument, "capacity must not be negative"))
			return
		}

		ctx, cancel := storeCtx(s, r)
		defer cancel()
		event, err := s.GetDB().CreateEvent(ctx, &database.Event{
			Name:        name,
			StartsAt:    startsAt,
			Location:    nullString(req.Location),
			Description: nullString(req.Description),
			Capacity:    sql.NullInt64{Int64: req.Capacity, Valid: req.Capacity > 0},
		})
		if err != nil {
			writeError(s, w, r, storeErr("create event", err))
			return
		}

		writeJSON(w, http.StatusCreated, eventView{
			ID:          event.ID,
			Name:        event.Name,
			StartsAt:    event.StartsAt,
			Location:    event.Location.String,
			Description: event.Description.String,
			Capacity:    event.Capacity.Int64,
		})
	}
}

type membersRequest struct {
	GuestIDs []int64 `json:"guest_ids"`
}

// HandleAddMembers puts guests on an event's invite list. Re-adding a member
// is a no-op.
func HandleAddMembers(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := pathIDs(r, "eventID")
		if err != nil {
			writeError(s, w, r, err)
			return
		}
		var req membersRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(s, w, r, err)
			return
		}
		if len(req.GuestIDs) == 0 {
			writeError(s, w, r, errs.New(errs.KindInvalidArgument, "guest_ids is required"))
			return
		}

		ctx, cancel := storeCtx(s, r)
		defer cancel()
		db := s.GetDB()

		if _, err := db.GetEventByID(ctx, ids[0]); err != nil {
			writeError(s, w, r, storeErr("load event", err))
			return
		}

		added := 0
		for _, guestID := range req.GuestIDs {
			if _, err := db.GetGuestByID(ctx, guestID); err != nil {
				writeError(s, w, r, storeErr("load guest", err))
				return
			}
			created, err := db.AddMembership(ctx, ids[0], guestID)
			if err != nil {
				writeError(s, w, r, storeErr("add membership", err))
				return
			}
			if created {
				added++
			}
		}
		writeJSON(w, http.StatusOK, map[string]int{"added": added})
	}
}

type codeView struct {
	ID        int64      `json:"id"`
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	ExpiredAt *time.Time `json:"expired_at,omitempty"`
}

func newCodeView(c *database.QRCode) codeView {
	return codeView{
		ID:        c.ID,
		Type:      string(c.Type),
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt,
		SentAt:    timePtr(c.SentAt),
		UsedAt:    timePtr(c.UsedAt),
		ExpiredAt: timePtr(c.ExpiredAt),
	}
}

// HandleCodeHistory lists every code of a guest for an event, most recent first.
func HandleCodeHistory(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := pathIDs(r, "eventID", "guestID")
		if err != nil {
			writeError(s, w, r, err)
			return
		}

		codes, err := s.GetCodes().History(r.Context(), ids[1], ids[0])
		if err != nil {
			writeError(s, w, r, err)
			return
		}
		views := make([]codeView, 0, len(codes))
		for _, c := range codes {
			views = append(views, newCodeView(c))
		}
		writeJSON(w, http.StatusOK, map[string][]codeView{"codes": views})
	}
}

type resetRequest struct {
	Type string `json:"type"`
}

// HandleResetCodes expires a guest's active code and issues a fresh one. The
// type defaults to the one the guest is entitled to.
func HandleResetCodes(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := pathIDs(r, "eventID", "guestID")
		if err != nil {
			writeError(s, w, r, err)
			return
		}
		eventID, guestID := ids[0], ids[1]

		var req resetRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(s, w, r, err)
				return
			}
		}

		var typ database.CodeType
		switch database.CodeType(strings.ToUpper(req.Type)) {
		case database.CodeRegular:
			typ = database.CodeRegular
		case database.CodeVIP:
			typ = database.CodeVIP
		case "":
			ctx, cancel := storeCtx(s, r)
			guest, err := s.GetDB().GetGuestByID(ctx, guestID)
			cancel()
			if err != nil {
				writeError(s, w, r, storeErr("load guest", err))
				return
			}
			typ = guest.CodeType()
		default:
			writeError(s, w, r, errs.New(errs.KindInvalidArgument, "type must be REGULAR or VIP"))
			return
		}

		code, err := s.GetCodes().Reissue(r.Context(), guestID, eventID, typ)
		if err != nil {
			writeError(s, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newCodeView(code))
	}
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
