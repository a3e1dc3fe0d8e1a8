// Package notify delivers guest-facing messages through a pluggable
// dispatcher. Content rendering lives with the external mailer; adapters here
// only carry the payload.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/AlexTLDR/evite-checkin/internal/config"
)

type MessageType string

const (
	MessageSaveTheDate MessageType = "SAVE_THE_DATE"
	MessageInvitation  MessageType = "INVITATION"
	MessageSurvey      MessageType = "SURVEY"
	MessageQRCode      MessageType = "QR_CODE"
)

type Payload struct {
	GuestName     string `json:"guest_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	EventName     string `json:"event_name"`
	EventDate     string `json:"event_date"`
	EventLocation string `json:"event_location,omitempty"`
	QRToken       string `json:"qr_token,omitempty"`
}

type Message struct {
	GuestID int64       `json:"guest_id"`
	EventID int64       `json:"event_id"`
	Type    MessageType `json:"type"`
	Payload Payload     `json:"payload"`
}

// Dispatcher delivers a message to a guest. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	Deliver(ctx context.Context, msg Message) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, msg Message) error

func (f DispatcherFunc) Deliver(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Subject is the plain-text subject line for a message.
func Subject(msg Message) string {
	switch msg.Type {
	case MessageSaveTheDate:
		return "Save the date: " + msg.Payload.EventName
	case MessageInvitation:
		return "You are invited: " + msg.Payload.EventName
	case MessageSurvey:
		return "Tell us about " + msg.Payload.EventName
	case MessageQRCode:
		return "Your entry code for " + msg.Payload.EventName
	}
	return msg.Payload.EventName
}

// Body is a minimal plain-text body carrying the payload.
func Body(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", msg.Payload.GuestName)
	fmt.Fprintf(&b, "%s\n%s\n", msg.Payload.EventName, msg.Payload.EventDate)
	if msg.Payload.EventLocation != "" {
		fmt.Fprintf(&b, "%s\n", msg.Payload.EventLocation)
	}
	if msg.Payload.QRToken != "" {
		fmt.Fprintf(&b, "\nPresent this code at the entrance:\n%s\n", msg.Payload.QRToken)
	}
	return b.String()
}

// FromConfig builds the dispatcher selected by NOTIFIER. The returned close
// function releases any connection the adapter holds.
func FromConfig(cfg *config.Config, log logrus.FieldLogger) (Dispatcher, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Notifier {
	case config.NotifierLog:
		return NewLogNotifier(log), noop, nil
	case config.NotifierSMTP:
		return NewSMTPNotifier(cfg.SMTP, log), noop, nil
	case config.NotifierAMQP:
		n, err := DialAMQP(cfg.AMQPURL, cfg.AMQPQueue, log)
		if err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported notifier %q", cfg.Notifier)
}
