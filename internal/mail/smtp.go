package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	. "github.com/roelfdiedericks/tldr/internal/logging"
)

// originalSeparator heads the forwarded original in the summary email.
const originalSeparator = "<br><br><b>ORIGINAL EMAIL</b><hr><br>"

// Outgoing is a summary email.
type Outgoing struct {
	From      string
	Recipient string
	Subject   string
	HTMLBody  string
	Original  []byte // raw original message, attached when non-nil
}

// SMTPConfig configures an SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	TLS      bool // implicit TLS (465); false upgrades with STARTTLS
	Username string
	Password string
}

// SMTPSender delivers summaries over SMTP with PLAIN auth.
type SMTPSender struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewSMTPSender creates a sender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port <= 0 {
		cfg.Port = 465
	}
	return &SMTPSender{cfg: cfg, now: time.Now}
}

// sanitizeHeaderValue removes CR/LF from s to prevent header injection.
func sanitizeHeaderValue(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// Compose builds the RFC 5322 message for out: a multipart/mixed message
// whose first part is the HTML summary. When out.Original is set the HTML
// ends with an "ORIGINAL EMAIL" separator and the original is attached as
// message/rfc822.
func Compose(out Outgoing, now time.Time) ([]byte, error) {
	from := sanitizeHeaderValue(out.From)
	to := sanitizeHeaderValue(out.Recipient)

	var h mail.Header
	h.SetDate(now)
	if addrs, err := mail.ParseAddressList(from); err == nil && len(addrs) > 0 {
		h.SetAddressList("From", addrs)
	} else {
		h.Set("From", from)
	}
	if addrs, err := mail.ParseAddressList(to); err == nil && len(addrs) > 0 {
		h.SetAddressList("To", addrs)
	} else {
		return nil, fmt.Errorf("invalid recipient %q", out.Recipient)
	}
	h.SetSubject(sanitizeHeaderValue(out.Subject))
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	body := out.HTMLBody
	if out.Original != nil {
		body += originalSeparator
	}

	var th mail.InlineHeader
	th.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")
	w, err := mw.CreateSingleInline(th)
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		w.Close()
		return nil, fmt.Errorf("write html part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close html part: %w", err)
	}

	if out.Original != nil {
		var ah mail.AttachmentHeader
		ah.SetContentType("message/rfc822", nil)
		ah.SetFilename("original.eml")
		ah.Set("Content-Transfer-Encoding", "8bit")
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("create original part: %w", err)
		}
		if _, err := aw.Write(out.Original); err != nil {
			aw.Close()
			return nil, fmt.Errorf("write original part: %w", err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("close original part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

// credentialsRejected reports whether err is the server refusing the
// username or password (535, or 534 when the account needs an app password).
// Missing AUTH support and temporary failures are ordinary send errors.
func credentialsRejected(err error) bool {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return false
	}
	return tpErr.Code == 534 || tpErr.Code == 535
}

// Send composes and delivers out. Failures are per-message: the caller
// records them and moves on. Rejected credentials are reported as *AuthError.
func (s *SMTPSender) Send(ctx context.Context, out Outgoing) error {
	if out.From == "" {
		out.From = s.cfg.Username
	}
	msg, err := Compose(out, s.now())
	if err != nil {
		return err
	}

	start := time.Now()
	client, conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer client.Close()

	if s.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return fmt.Errorf("smtp: %s does not offer AUTH", s.cfg.Host)
		}
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			if credentialsRejected(err) {
				return &AuthError{Server: "smtp", Username: s.cfg.Username, Err: err}
			}
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(sanitizeHeaderValue(out.From)); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := client.Rcpt(sanitizeHeaderValue(out.Recipient)); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	if err := client.Quit(); err != nil {
		L_debug("smtp: quit failed", "error", err)
	}

	L_elapsed(start, "smtp: sent", "to", out.Recipient, "bytes", len(msg))
	return nil
}

// dial connects and greets the server, upgrading to TLS as configured.
func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, net.Conn, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	var conn net.Conn
	var err error
	if s.cfg.TLS {
		d := &tls.Dialer{Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("smtp new client: %w", err)
	}

	if !s.cfg.TLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, nil, fmt.Errorf("smtp starttls: %w", err)
			}
		} else if !isLoopback(s.cfg.Host) {
			client.Close()
			return nil, nil, errors.New("smtp: server does not offer STARTTLS, refusing to send credentials in plaintext")
		}
	}
	return client, conn, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
