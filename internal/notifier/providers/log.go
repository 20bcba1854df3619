package providers

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes emails to the log instead of sending them. Used for
// local runs alongside the dryrun publisher.
type LogSender struct {
	log *logrus.Entry
}

func NewLogSender(log *logrus.Entry) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, to, subject, htmlBody, plainBody string) error {
	s.log.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info("email (not sent)\n" + plainBody)
	return nil
}

func (s *LogSender) Ping(ctx context.Context) error { return nil }
