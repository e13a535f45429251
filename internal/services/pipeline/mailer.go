package pipeline

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
)

// Mailer sends the finished transcript PDF by email over SMTP with STARTTLS.
type Mailer struct {
	host string
	port string
	user string
	pass string
	from string
}

// NewMailer creates a mailer; a missing host disables sending.
func NewMailer(host, port, user, pass, from string) *Mailer {
	return &Mailer{host: host, port: port, user: user, pass: pass, from: from}
}

// Enabled reports whether SMTP delivery is configured.
func (m *Mailer) Enabled() bool {
	return m.host != "" && m.from != ""
}

// SendTranscript emails the PDF as an attachment.
func (m *Mailer) SendTranscript(to, subject, body, filename string, pdf []byte) error {
	if !m.Enabled() {
		return fmt.Errorf("smtp delivery is not configured")
	}

	msg, err := m.buildMessage(to, subject, body, filename, pdf)
	if err != nil {
		return fmt.Errorf("failed to build email: %w", err)
	}

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	addr := m.host + ":" + m.port
	if err := smtp.SendMail(addr, auth, m.from, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

func (m *Mailer) buildMessage(to, subject, body, filename string, pdf []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", m.from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", w.Boundary())

	textPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(textPart, "%s\r\n", body)

	attachment, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/pdf"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", filename)},
	})
	if err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(pdf)
	// RFC 2045 line length limit.
	for len(encoded) > 76 {
		fmt.Fprintf(attachment, "%s\r\n", encoded[:76])
		encoded = encoded[76:]
	}
	fmt.Fprintf(attachment, "%s\r\n", encoded)

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
