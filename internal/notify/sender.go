package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"quotegate/internal/config"
)

type Sender interface {
	SendPasswordReset(ctx context.Context, toEmail, token string) error
}

func resetLink(baseURL, token string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return token
	}
	return fmt.Sprintf("%s/reset.html?token=%s", base, token)
}

type LogSender struct {
	baseURL string
}

func (s LogSender) SendPasswordReset(ctx context.Context, toEmail, token string) error {
	_ = ctx
	log.Printf("password_reset_issued email=%s link=%s", toEmail, resetLink(s.baseURL, token))
	return nil
}

type SMTPSender struct {
	host    string
	port    int
	from    string
	baseURL string
	send    func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSender(cfg config.Config) Sender {
	switch cfg.PasswordResetSender {
	case "smtp":
		return SMTPSender{
			host:    cfg.SMTPHost,
			port:    cfg.SMTPPort,
			from:    cfg.PasswordResetFrom,
			baseURL: cfg.PasswordResetBaseURL,
			send:    smtp.SendMail,
		}
	default:
		return LogSender{baseURL: cfg.PasswordResetBaseURL}
	}
}

func (s SMTPSender) SendPasswordReset(ctx context.Context, toEmail, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := composeReset(s.from, toEmail, resetLink(s.baseURL, token), time.Now())
	if err != nil {
		return fmt.Errorf("compose reset mail: %w", err)
	}
	send := s.send
	if send == nil {
		send = smtp.SendMail
	}
	return send(fmt.Sprintf("%s:%d", s.host, s.port), nil, s.from, []string{toEmail}, msg)
}

func composeReset(from, to, link string, at time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(at)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject("Password reset")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, "Use this link to reset your password:\r\n"+link+"\r\n"); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
