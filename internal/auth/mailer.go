package auth

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// Mailer は確認メールの送信インターフェース。
type Mailer interface {
	SendConfirmation(ctx context.Context, to, confirmURL string) error
}

// SMTPConfig はSMTPMailerの接続設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer はgomailでSMTP経由のメールを送信する。
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// SendConfirmation は確認リンクを含むメールを送信する。
func (m *SMTPMailer) SendConfirmation(ctx context.Context, to, confirmURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := newConfirmationMessage(m.from, to, confirmURL)
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send confirmation mail: %w", err)
	}
	return nil
}

func newConfirmationMessage(from, to, confirmURL string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Confirm your MealDash account")
	msg.SetBody("text/plain", "Follow this link to confirm your email address:\n\n"+confirmURL+"\n")
	msg.AddAlternative("text/html", `<p>Follow this link to confirm your email address:</p><p><a href="`+confirmURL+`">Confirm email</a></p>`)
	return msg
}

// LogMailer はメールを送信せず確認リンクをログに出力する。
// SMTPが未設定の開発環境で使用する。
type LogMailer struct{}

// SendConfirmation は確認リンクをログに出力する。
func (LogMailer) SendConfirmation(_ context.Context, to, confirmURL string) error {
	slog.Info("confirmation mail (SMTP disabled)",
		slog.String("to", to),
		slog.String("confirm_url", confirmURL),
	)
	return nil
}

// compile-time interface checks
var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = LogMailer{}
)
