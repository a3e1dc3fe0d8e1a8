package database

import (
	"database/sql"
	"time"
)

type InvitationType string

const (
	InvitationSaveTheDate InvitationType = "SAVE_THE_DATE"
	InvitationInvite      InvitationType = "INVITATION"
	InvitationSurvey      InvitationType = "SURVEY"
)

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "PENDING"
	InvitationSent      InvitationStatus = "SENT"
	InvitationOpened    InvitationStatus = "OPENED"
	InvitationResponded InvitationStatus = "RESPONDED"
)

type Response string

const (
	ResponseComing              Response = "COMING"
	ResponseNotComing           Response = "NOT_COMING"
	ResponseComingWithCompanion Response = "COMING_WITH_COMPANION"
)

// Valid reports whether r is one of the known responses.
func (r Response) Valid() bool {
	switch r {
	case ResponseComing, ResponseNotComing, ResponseComingWithCompanion:
		return true
	}
	return false
}

// Attending reports whether the guest said they will come.
func (r Response) Attending() bool {
	return r == ResponseComing || r == ResponseComingWithCompanion
}

type CodeType string

const (
	CodeRegular CodeType = "REGULAR"
	CodeVIP     CodeType = "VIP"
)

type CodeStatus string

const (
	CodeGenerated CodeStatus = "GENERATED"
	CodeSent      CodeStatus = "SENT"
	CodeUsed      CodeStatus = "USED"
	CodeExpired   CodeStatus = "EXPIRED"
)

// Active reports whether a code in this status can still be redeemed.
func (s CodeStatus) Active() bool {
	return s == CodeGenerated || s == CodeSent
}

type Guest struct {
	ID          int64
	Email       string
	FirstName   string
	LastName    string
	Company     sql.NullString
	Position    sql.NullString
	Phone       sql.NullString
	IsVIP       bool
	IsCompanion bool
	CompanionOf sql.NullInt64
	CreatedAt   time.Time
}

// FullName joins first and last name.
func (g *Guest) FullName() string {
	if g.LastName == "" {
		return g.FirstName
	}
	return g.FirstName + " " + g.LastName
}

// CodeType is the kind of QR code this guest is entitled to.
func (g *Guest) CodeType() CodeType {
	if g.IsVIP {
		return CodeVIP
	}
	return CodeRegular
}

type Event struct {
	ID          int64
	Name        string
	StartsAt    time.Time
	Location    sql.NullString
	Description sql.NullString
	Capacity    sql.NullInt64
	CreatedAt   time.Time
}

type Membership struct {
	EventID   int64
	GuestID   int64
	CreatedAt time.Time
}

type Invitation struct {
	ID            int64
	GuestID       int64
	EventID       int64
	Type          InvitationType
	Status        InvitationStatus
	Response      sql.NullString
	HasCompanion  bool
	CompanionName sql.NullString
	SentAt        sql.NullTime
	OpenedAt      sql.NullTime
	RespondedAt   sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type QRCode struct {
	ID        int64
	Code      string
	Type      CodeType
	GuestID   int64
	EventID   int64
	Status    CodeStatus
	CreatedAt time.Time
	SentAt    sql.NullTime
	UsedAt    sql.NullTime
	ExpiredAt sql.NullTime
}

// Recipient is an attending guest together with their invitation response,
// as listed for QR dispatch.
type Recipient struct {
	Guest    *Guest
	Response sql.NullString
}
