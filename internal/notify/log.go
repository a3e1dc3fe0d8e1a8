package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes messages to the log instead of delivering them. It is the
// default for local development.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log.WithField("notifier", "log")}
}

func (n *LogNotifier) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.log.WithFields(logrus.Fields{
		"guest_id": msg.GuestID,
		"event_id": msg.EventID,
		"type":     msg.Type,
		"email":    msg.Payload.Email,
		"subject":  Subject(msg),
	}).Info("notification delivered")
	return nil
}
