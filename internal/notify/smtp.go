package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/sovereign/internal/idgen"
)

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Configured reports whether enough is set to attempt delivery.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.From != ""
}

// SMTPChannel sends mail over SMTP. Port 465 uses implicit TLS, any
// other port upgrades with STARTTLS when the server offers it.
type SMTPChannel struct {
	cfg    SMTPConfig
	dialer *net.Dialer
}

// NewSMTPChannel creates an SMTP provider.
func NewSMTPChannel(cfg SMTPConfig) *SMTPChannel {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPChannel{cfg: cfg, dialer: &net.Dialer{Timeout: 10 * time.Second}}
}

func (s *SMTPChannel) Name() string { return ProviderSMTP }

func (s *SMTPChannel) Send(ctx context.Context, msg *Message) (*Delivery, error) {
	if msg.To == "" {
		return nil, ErrMissingRecipient
	}
	messageID := fmt.Sprintf("<%s@%s>", idgen.New(), s.cfg.Host)
	raw, err := buildMIME(s.cfg.From, messageID, msg, time.Now())
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsConfig := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
	if s.cfg.Port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = client.Close() }()

	if s.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return nil, fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return nil, fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return nil, fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return nil, fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return nil, fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("smtp write: %w", err)
	}
	_ = client.Quit()

	return &Delivery{Sent: true, Provider: ProviderSMTP, MessageID: messageID}, nil
}

// buildMIME renders the message. With an HTML part it is multipart/alternative.
func buildMIME(from, messageID string, msg *Message, now time.Time) ([]byte, error) {
	for _, v := range []string{from, msg.To, msg.Subject} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, ErrInvalidHeader
		}
	}

	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", from)
	header("To", msg.To)
	header("Subject", mimeWord(msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", messageID)
	header("MIME-Version", "1.0")
	switch msg.Priority {
	case PriorityHigh, PriorityCritical:
		header("X-Priority", "1")
		header("Importance", "high")
	case PriorityLow:
		header("X-Priority", "5")
	}

	if msg.HTML == "" {
		header("Content-Type", `text/plain; charset="utf-8"`)
		header("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQP(&buf, msg.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	for _, part := range []struct{ contentType, content string }{
		{`text/plain; charset="utf-8"`, msg.Body},
		{`text/html; charset="utf-8"`, msg.HTML},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		if err := writeQP(pw, part.content); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

func writeQP(w io.Writer, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(s)); err != nil {
		return err
	}
	return qp.Close()
}

func mimeWord(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}
