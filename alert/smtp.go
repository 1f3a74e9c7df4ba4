package alert

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"catalog_etl/config"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTP struct {
	cfg      config.SMTPConfig
	sendMail sendMailFunc
}

func NewSMTP(cfg config.SMTPConfig) *SMTP {
	return &SMTP{cfg: cfg, sendMail: smtp.SendMail}
}

func (p *SMTP) Send(ctx context.Context, a Alert) error {
	if len(p.cfg.To) == 0 {
		return errors.New("smtp alert: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	from := p.cfg.From
	if from == "" {
		from = p.cfg.Username
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-version: 1.0;\r\nContent-Type: text/plain; charset=\"UTF-8\";\r\n\r\n%s",
		from, strings.Join(p.cfg.To, ", "), a.Subject(), strings.ReplaceAll(a.Body(), "\n", "\r\n"))

	if err := p.sendMail(addr, auth, from, p.cfg.To, []byte(msg)); err != nil {
		return fmt.Errorf("smtp alert: %w", err)
	}
	return nil
}
