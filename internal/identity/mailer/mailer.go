// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

// Package mailer delivers one-time codes over SMTP.
//
// Delivery is fire and forget: the authentication protocol never waits for
// the mail transport and never fails because of it. An unreachable relay is
// logged and the code stays retrievable through the resend operations.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// subjects per code purpose; unknown purposes fall back to a generic line.
var subjects = map[string]string{
	"verification": "Verify your email address",
	"two-factor":   "Your sign-in code",
}

// Mailer sends one-time codes through a single SMTP relay.
type Mailer struct {
	addr     string
	username string
	password string
	host     string
	from     string
	logger   *slog.Logger

	// send is swapped in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New builds the mailer. host and port address the relay; username and
// password may be empty for an unauthenticated relay.
func New(host string, port int, username, password, from string, logger *slog.Logger) *Mailer {
	return &Mailer{
		addr:     fmt.Sprintf("%s:%d", host, port),
		username: username,
		password: password,
		host:     host,
		from:     from,
		logger:   logger,
		send:     smtp.SendMail,
	}
}

// SendCode dispatches the code asynchronously. It returns immediately; the
// outcome is observable only in the logs.
func (mailer *Mailer) SendCode(_ context.Context, email, purpose, code string) {
	go func() {
		if err := mailer.deliver(email, purpose, code); err != nil {
			mailer.logger.Warn("mailer_send_failed",
				"email", email, "purpose", purpose, "error", err)
			return
		}
		mailer.logger.Info("mailer_code_sent", "email", email, "purpose", purpose)
	}()
}

func (mailer *Mailer) deliver(email, purpose, code string) error {
	subject, ok := subjects[purpose]
	if !ok {
		subject = "Your one-time code"
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", mailer.from)
	fmt.Fprintf(&msg, "To: %s\r\n", email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&msg, "Your code is %s.\r\n\r\nIf you did not request this, ignore this message.\r\n", code)

	var auth smtp.Auth
	if mailer.username != "" {
		auth = smtp.PlainAuth("", mailer.username, mailer.password, mailer.host)
	}
	return mailer.send(mailer.addr, auth, mailer.from, []string{email}, []byte(msg.String()))
}
