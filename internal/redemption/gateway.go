// Package redemption admits guests at the door by consuming their entry code.
package redemption

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AlexTLDR/evite-checkin/internal/database"
)

// Redeemer consumes a code. *qrcode.Engine implements it.
type Redeemer interface {
	Redeem(ctx context.Context, code string, eventID int64) (*database.QRCode, error)
}

type GuestStore interface {
	GetGuestByID(ctx context.Context, id int64) (*database.Guest, error)
}

// Admission is what door staff see after a successful scan.
type Admission struct {
	GuestID   int64             `json:"guest_id"`
	EventID   int64             `json:"event_id"`
	FirstName string            `json:"first_name,omitempty"`
	LastName  string            `json:"last_name,omitempty"`
	Company   string            `json:"company,omitempty"`
	Position  string            `json:"position,omitempty"`
	VIP       bool              `json:"vip"`
	Companion bool              `json:"companion"`
	CodeType  database.CodeType `json:"code_type"`
	UsedAt    time.Time         `json:"used_at"`
}

type Gateway struct {
	codes   Redeemer
	guests  GuestStore
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewGateway(codes Redeemer, guests GuestStore, timeout time.Duration, log logrus.FieldLogger) *Gateway {
	return &Gateway{
		codes:   codes,
		guests:  guests,
		timeout: timeout,
		log:     log.WithField("component", "redemption"),
	}
}

// Redeem consumes the code for the event and describes the admitted guest.
// Errors from the engine are returned unchanged.
func (g *Gateway) Redeem(ctx context.Context, code string, eventID int64) (*Admission, error) {
	used, err := g.codes.Redeem(ctx, code, eventID)
	if err != nil {
		return nil, err
	}

	admission := &Admission{
		GuestID:  used.GuestID,
		EventID:  used.EventID,
		VIP:      used.Type == database.CodeVIP,
		CodeType: used.Type,
		UsedAt:   used.UsedAt.Time,
	}

	// The code is consumed at this point; a failed lookup only costs the
	// display attributes.
	gctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	guest, err := g.guests.GetGuestByID(gctx, used.GuestID)
	if err != nil {
		g.log.WithFields(logrus.Fields{
			"guest_id": used.GuestID,
			"event_id": eventID,
			"code_id":  used.ID,
		}).WithError(err).Error("admitted guest lookup failed")
		return admission, nil
	}

	admission.FirstName = guest.FirstName
	admission.LastName = guest.LastName
	admission.Company = guest.Company.String
	admission.Position = guest.Position.String
	admission.VIP = admission.VIP || guest.IsVIP
	admission.Companion = guest.IsCompanion
	return admission, nil
}
