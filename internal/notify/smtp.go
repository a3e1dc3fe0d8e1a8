package notify

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/AlexTLDR/evite-checkin/internal/config"
)

// SMTPNotifier sends plain-text email through an SMTP relay.
type SMTPNotifier struct {
	from    string
	send    func(m *gomail.Message) error
	backoff func() retry.Backoff
	log     logrus.FieldLogger
}

func NewSMTPNotifier(cfg config.SMTPConfig, log logrus.FieldLogger) *SMTPNotifier {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPNotifier{
		from: cfg.From,
		send: func(m *gomail.Message) error {
			return d.DialAndSend(m)
		},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
		},
		log: log.WithField("notifier", "smtp"),
	}
}

func (n *SMTPNotifier) message(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", msg.Payload.Email)
	m.SetHeader("Subject", Subject(msg))
	m.SetBody("text/plain", Body(msg))
	return m
}

// Deliver sends the message, retrying transient failures. Permanent SMTP
// replies (5xx) are not retried.
func (n *SMTPNotifier) Deliver(ctx context.Context, msg Message) error {
	if msg.Payload.Email == "" {
		return fmt.Errorf("guest %d has no email address", msg.GuestID)
	}
	m := n.message(msg)

	attempt := 0
	err := retry.Do(ctx, n.backoff(), func(ctx context.Context) error {
		attempt++
		err := n.send(m)
		if err == nil {
			return nil
		}
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code >= 500 {
			return err
		}
		n.log.WithFields(logrus.Fields{
			"guest_id": msg.GuestID,
			"attempt":  attempt,
		}).WithError(err).Warn("smtp send failed, retrying")
		return retry.RetryableError(err)
	})
	if err != nil {
		return fmt.Errorf("failed to send email to guest %d: %w", msg.GuestID, err)
	}

	n.log.WithFields(logrus.Fields{
		"guest_id": msg.GuestID,
		"event_id": msg.EventID,
		"type":     msg.Type,
	}).Info("email sent")
	return nil
}
