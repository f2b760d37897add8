// Package mailer sends delivery email over SMTP.
package mailer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/delivery"
)

var (
	_ delivery.Mailer = (*SMTP)(nil)
	_ delivery.Mailer = Log{}
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS is "mandatory", "opportunistic" or "none".
	TLS     string
	Timeout time.Duration
}

// SMTP sends mail through an SMTP relay.
type SMTP struct {
	client *mail.Client
	from   string
}

// New creates an SMTP mailer.
func New(cfg Config) (*SMTP, error) {
	if cfg.From == "" {
		return nil, errors.New("mailer: sender address is required")
	}

	opts := []mail.Option{mail.WithTLSPortPolicy(tlsPolicy(cfg.TLS))}
	if cfg.Port != 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "smtp client")
	}
	return &SMTP{client: client, from: cfg.From}, nil
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch s {
	case "none":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}

// Send implements delivery.Mailer.
func (m *SMTP) Send(ctx context.Context, msg delivery.Message) error {
	mm, err := build(m.from, msg)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, mm); err != nil {
		return errors.Wrap(err, "send")
	}
	return nil
}

func build(from string, msg delivery.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, errors.Wrap(err, "from")
	}
	if err := m.To(msg.To); err != nil {
		return nil, errors.Wrap(err, "to")
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}

// ErrNotConfigured is returned by Log.
var ErrNotConfigured = errors.New("no SMTP relay configured")

// Log is used when no SMTP relay is configured. It logs the envelope and
// fails, so the order keeps its delivery step pending.
type Log struct{}

// Send implements delivery.Mailer.
func (Log) Send(ctx context.Context, msg delivery.Message) error {
	zctx.From(ctx).Warn("Mail not sent, no SMTP relay configured",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("links", msg.Links),
	)
	return ErrNotConfigured
}
