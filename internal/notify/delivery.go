package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jordan-wright/email"
)

// ErrRecipientNotFound indicates the requester cannot receive notices.
var ErrRecipientNotFound = errors.New("notify: recipient not found")

// Recipient is the addressee of a notice.
type Recipient struct {
	ID    int64
	Email string
	Name  string
}

// RecipientLookup resolves user ids to addresses.
type RecipientLookup interface {
	Recipient(ctx context.Context, userID int64) (Recipient, error)
}

// PGRecipients reads recipients from the users table.
type PGRecipients struct {
	pool *pgxpool.Pool
}

// NewPGRecipients constructs PGRecipients.
func NewPGRecipients(pool *pgxpool.Pool) *PGRecipients {
	return &PGRecipients{pool: pool}
}

// Recipient returns the active user with the given id.
func (p *PGRecipients) Recipient(ctx context.Context, userID int64) (Recipient, error) {
	r := Recipient{ID: userID}
	err := p.pool.QueryRow(ctx, `SELECT email, name FROM users WHERE id = $1 AND is_active`, userID).Scan(&r.Email, &r.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recipient{}, ErrRecipientNotFound
	}
	if err != nil {
		return Recipient{}, fmt.Errorf("notify: load recipient: %w", err)
	}
	return r, nil
}

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender constructs an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers msg. The relay call is not context aware; the asynq task
// timeout bounds it.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := email.NewEmail()
	e.From = s.cfg.From
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)

	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := e.Send(addr, auth); err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}
	return nil
}
