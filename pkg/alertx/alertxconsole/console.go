package alertxconsole

import (
	"context"
	"strings"

	"github.com/Abraxas-365/jobrelay/pkg/alertx"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
)

// Sender prints alerts through logx. Intended for development and testing.
type Sender struct {
	log *logx.Logger
}

// NewSender creates a console sender.
func NewSender(log *logx.Logger) *Sender {
	if log == nil {
		log = logx.Nop()
	}
	return &Sender{log: log.Named("alertx.console")}
}

// Send logs the message instead of delivering it.
func (s *Sender) Send(_ context.Context, msg alertx.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.log.WithFields(logx.Fields{
		"from":    msg.From,
		"to":      strings.Join(msg.To, ", "),
		"subject": msg.Subject,
	}).Info("alert sent (dev mode)")

	if msg.TextBody != "" {
		s.log.Debugf("text body:\n%s", msg.TextBody)
	}
	if msg.HTMLBody != "" {
		s.log.Debugf("html body:\n%s", msg.HTMLBody)
	}

	return nil
}
