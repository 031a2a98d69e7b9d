// Package mailer delivers simulation emails through an SMTP submission relay
// and records them against their campaign.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsTemporaryError checks if the error is temporary
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}

// RelayConfig contains submission relay settings
type RelayConfig struct {
	Addr     string
	Hostname string
	Username string
	Password string
	StartTLS bool
	Timeout  time.Duration

	// TLSConfig overrides the STARTTLS client config
	TLSConfig *tls.Config
}

// Relay submits messages to a single configured relay
type Relay struct {
	cfg    RelayConfig
	signer *Signer
	logger *slog.Logger
}

// NewRelay creates a relay client; signer may be nil
func NewRelay(cfg RelayConfig, signer *Signer, logger *slog.Logger) *Relay {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	return &Relay{
		cfg:    cfg,
		signer: signer,
		logger: logger,
	}
}

// Deliver submits one message
func (r *Relay) Deliver(ctx context.Context, from string, to []string, data []byte) error {
	dialer := &net.Dialer{Timeout: r.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.cfg.Addr)
	if err != nil {
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", r.cfg.Addr, err),
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(r.cfg.Timeout))
	}

	client, err := r.newClient(conn)
	if err != nil {
		return err
	}
	defer client.Close()

	if r.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return &DeliveryError{Message: fmt.Sprintf("relay %s does not offer AUTH", r.cfg.Addr)}
		}
		if err := client.Auth(sasl.NewPlainClient("", r.cfg.Username, r.cfg.Password)); err != nil {
			return categorizeError(err, "AUTH")
		}
	}

	messageData := data
	if r.signer != nil {
		signed, err := r.signer.Sign(data)
		if err != nil {
			r.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", r.signer.Domain(),
				"error", err,
			)
		} else {
			messageData = signed
		}
	}

	if err := client.Mail(from, nil); err != nil {
		return categorizeError(err, "MAIL FROM")
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient, nil); err != nil {
			return categorizeError(err, fmt.Sprintf("RCPT TO %s", recipient))
		}
	}

	wc, err := client.Data()
	if err != nil {
		return categorizeError(err, "DATA")
	}
	if _, err := bytes.NewReader(messageData).WriteTo(wc); err != nil {
		wc.Close()
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return categorizeError(err, "DATA close")
	}

	client.Quit()
	return nil
}

// newClient greets the relay and upgrades the session when STARTTLS is
// required. The pre-TLS EHLO goes out as "localhost"; the configured hostname
// is announced once the channel is encrypted.
func (r *Relay) newClient(conn net.Conn) (*smtp.Client, error) {
	if !r.cfg.StartTLS {
		client := smtp.NewClient(conn)
		if err := client.Hello(r.cfg.Hostname); err != nil {
			client.Close()
			return nil, categorizeError(err, "HELO")
		}
		return client, nil
	}

	client, err := smtp.NewClientStartTLS(conn, r.tlsConfig())
	if err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			return nil, categorizeError(err, "STARTTLS")
		}
		if strings.Contains(err.Error(), "support STARTTLS") {
			return nil, &DeliveryError{Message: fmt.Sprintf("relay %s does not offer STARTTLS", r.cfg.Addr)}
		}
		return nil, &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("STARTTLS failed: %v", err),
		}
	}
	if err := client.Hello(r.cfg.Hostname); err != nil {
		client.Close()
		return nil, &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("EHLO after STARTTLS failed: %v", err),
		}
	}
	return client, nil
}

func (r *Relay) tlsConfig() *tls.Config {
	if r.cfg.TLSConfig != nil {
		return r.cfg.TLSConfig
	}
	host, _, err := net.SplitHostPort(r.cfg.Addr)
	if err != nil {
		host = r.cfg.Addr
	}
	return &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
}

// categorizeError treats 5xx replies as permanent and everything else as temporary
func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code >= 500 && smtpErr.Code < 600 {
		return &DeliveryError{Temporary: false, Message: msg}
	}
	return &DeliveryError{Temporary: true, Message: msg}
}
