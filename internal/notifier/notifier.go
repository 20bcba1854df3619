package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AdamTech2025/twitter-autobot/internal/compose"
	"github.com/AdamTech2025/twitter-autobot/internal/config"
	"github.com/AdamTech2025/twitter-autobot/internal/fault"
	"github.com/AdamTech2025/twitter-autobot/internal/notifier/providers"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// ErrNoAddress means the recipient has no contact address.
var ErrNoAddress = errors.New("notifier: no contact address")

// Notifier handles sending confirmation and follow-up emails
type Notifier struct {
	sender  Sender
	builder *compose.Builder
	timeout time.Duration
}

// Sender defines the interface for email sending
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, plainBody string) error
	Ping(ctx context.Context) error
}

// New creates a new notifier with the given sender
func New(sender Sender, builder *compose.Builder, timeout time.Duration) *Notifier {
	return &Notifier{sender: sender, builder: builder, timeout: timeout}
}

// NewFromConfig creates a notifier based on configuration
func NewFromConfig(cfg config.EmailConfig, log *logrus.Entry) (*Notifier, error) {
	var sender Sender

	switch cfg.Provider {
	case "smtp":
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.FromAddr,
		)
	case "log":
		sender = providers.NewLogSender(log)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}

	builder, err := compose.New()
	if err != nil {
		return nil, err
	}
	return New(sender, builder, cfg.Timeout.Duration), nil
}

// SendConfirmation emails the draft text and its single-use confirmation
// link to address.
func (n *Notifier) SendConfirmation(ctx context.Context, address string, d types.Draft, link string) error {
	if address == "" {
		return fault.Permanent(ErrNoAddress)
	}
	msg, err := n.builder.Confirmation(d, link)
	if err != nil {
		return fault.Permanent(err)
	}
	return n.send(ctx, address, msg)
}

// SendPublished tells the user their post went out.
func (n *Notifier) SendPublished(ctx context.Context, address string, d types.Draft, postURL string) error {
	if address == "" {
		return fault.Permanent(ErrNoAddress)
	}
	msg, err := n.builder.Published(d, postURL)
	if err != nil {
		return fault.Permanent(err)
	}
	return n.send(ctx, address, msg)
}

// Ping checks the mail server accepts a session.
func (n *Notifier) Ping(ctx context.Context) error {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.sender.Ping(ctx)
}

func (n *Notifier) send(ctx context.Context, to string, msg *compose.Message) error {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.sender.Send(ctx, to, msg.Subject, msg.HTMLBody, msg.PlainBody)
}

func (n *Notifier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, n.timeout)
}
