package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/smtp"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/eliseevk/tgsentry/internal/config"
)

const (
	sendAttempts = 3
	sendBackoff  = 4 * time.Second
	maxSendDelay = 10 * time.Second
)

// SMTPNotifier sends mail through an SMTP submission endpoint.
type SMTPNotifier struct {
	cfg    *config.Config
	logger *zerolog.Logger
}

// NewSMTP creates an SMTPNotifier.
func NewSMTP(cfg *config.Config, logger *zerolog.Logger) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, logger: logger}
}

func (n *SMTPNotifier) SendAlert(ctx context.Context, alert Alert) (bool, error) {
	if len(alert.Recipients) == 0 {
		n.logger.Debug().Msg("alert has no recipients, skipping send")

		return false, nil
	}

	subject := fmt.Sprintf("News Alert: %s", joinRuleNames(alert.RuleNames))
	text := alertTextBody(alert)
	html := alertHTMLBody(alert)

	if err := n.send(ctx, alert.Recipients, subject, text, html); err != nil {
		return false, err
	}

	return true, nil
}

func (n *SMTPNotifier) SendDigest(ctx context.Context, digest Digest) (bool, error) {
	if len(digest.Recipients) == 0 {
		n.logger.Debug().Msg("digest has no recipients, skipping send")

		return false, nil
	}

	subject := fmt.Sprintf("News Digest - %d posts (%s)", digest.PostCount, upperLang(digest.Language))
	text := digestTextBody(digest)
	html := digestHTMLBody(digest)

	if err := n.send(ctx, digest.Recipients, subject, text, html); err != nil {
		return false, err
	}

	return true, nil
}

func (n *SMTPNotifier) send(ctx context.Context, recipients []string, subject, textBody, htmlBody string) error {
	if !n.cfg.SMTPConfigured() {
		return fmt.Errorf("smtp host is not configured")
	}

	msg, err := buildMessage(n.cfg.SMTPFrom, recipients, subject, textBody, htmlBody)
	if err != nil {
		return fmt.Errorf("building mail message: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if lastErr = n.submit(recipients, msg); lastErr == nil {
			n.logger.Info().Int("recipients", len(recipients)).Str("subject", subject).Msg("email sent")

			return nil
		}

		n.logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("email send failed")

		if attempt == sendAttempts {
			break
		}

		backoff := sendBackoff * time.Duration(attempt)
		if backoff > maxSendDelay {
			backoff = maxSendDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("sending email after %d attempts: %w", sendAttempts, lastErr)
}

// submit performs one SMTP transaction: STARTTLS when enabled, then
// AUTH PLAIN when credentials are present.
func (n *SMTPNotifier) submit(recipients []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer client.Close()

	if n.cfg.SMTPTLS {
		if err = client.StartTLS(&tls.Config{ServerName: n.cfg.SMTPHost, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if n.cfg.SMTPUsername != "" && n.cfg.SMTPPassword != "" {
		auth := smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPHost)
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	from, err := mail.ParseAddress(n.cfg.SMTPFrom)
	if err != nil {
		return fmt.Errorf("parsing from address: %w", err)
	}

	if err = client.Mail(from.Address); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}

	for _, rcpt := range recipients {
		if err = client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}

	if err = w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}

	return client.Quit()
}

// buildMessage renders a multipart/alternative MIME message with plain
// text and HTML parts.
func buildMessage(from string, recipients []string, subject, textBody, htmlBody string) ([]byte, error) {
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parsing from address %q: %w", from, err)
	}

	toAddrs := make([]*mail.Address, 0, len(recipients))
	for _, r := range recipients {
		toAddrs = append(toAddrs, &mail.Address{Address: r})
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{fromAddr})
	h.SetAddressList("To", toAddrs)
	h.SetSubject(subject)

	var buf bytes.Buffer

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating mail writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("creating alternative part: %w", err)
	}

	if err = writeInlinePart(iw, "text/plain", textBody); err != nil {
		return nil, err
	}

	if htmlBody != "" {
		if err = writeInlinePart(iw, "text/html", htmlBody); err != nil {
			return nil, err
		}
	}

	if err = iw.Close(); err != nil {
		return nil, fmt.Errorf("closing alternative part: %w", err)
	}

	if err = mw.Close(); err != nil {
		return nil, fmt.Errorf("closing mail writer: %w", err)
	}

	return buf.Bytes(), nil
}

func writeInlinePart(iw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	w, err := iw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", contentType, err)
	}

	if _, err = io.WriteString(w, body); err != nil {
		return fmt.Errorf("writing %s part: %w", contentType, err)
	}

	return w.Close()
}
