/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channels

import (
	"context"
	"fmt"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/cockroachdb/errors"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Email sends plain-text reminders over SMTP.
type Email struct {
	cfg      EmailConfig
	sendMail SendMailFunc
}

// NewEmail creates an SMTP channel. A nil send uses smtp.SendMail.
func NewEmail(cfg EmailConfig, send SendMailFunc) *Email {
	if send == nil {
		send = smtp.SendMail
	}
	return &Email{cfg: cfg, sendMail: send}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, to Contact, msg Message) (Receipt, error) {
	if to.Email == "" {
		return "", Permanent(CodeNoContact, errors.Newf("candidate %s has no email address", to.CandidateID))
	}
	if strings.ContainsAny(to.Email, "\r\n") {
		return "", Permanent(CodeInvalidContact, errors.Newf("candidate %s email address contains a line break", to.CandidateID))
	}

	from := e.cfg.From
	if e.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", headerValue(e.cfg.FromName), e.cfg.From)
	}
	messageID := fmt.Sprintf("<%s@%s>", msg.DedupKey, e.cfg.Host)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to.Email))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", headerValue(msg.Subject)))
	b.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	// net/smtp has no context support, so the call runs aside and is
	// abandoned when ctx ends.
	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(addr, auth, e.cfg.From, []string{to.Email}, []byte(b.String()))
	}()

	select {
	case <-ctx.Done():
		return "", Transient(CodeTimeout, ctx.Err())
	case err := <-done:
		if err != nil {
			return "", classifySMTP(err)
		}
		return Receipt(messageID), nil
	}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// headerValue folds line breaks so free text cannot start a new header.
func headerValue(s string) string {
	return lineBreaks.Replace(s)
}

func classifySMTP(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch {
		case tpErr.Code >= 500:
			return Permanent(CodeRejected, err)
		case tpErr.Code >= 400:
			return Transient(CodeUpstream, err)
		}
	}
	return Classify(err)
}
