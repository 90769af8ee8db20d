// Package mail sends application emails over SMTP with an optional resume
// attachment. Dry-run mode prepares the full message but only logs it, so a
// cycle can be rehearsed without contacting anyone.
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	texttemplate "text/template"

	"go.uber.org/zap"

	"applybot/internal/bot"
)

// sendMail performs the SMTP exchange; a package variable so tests can
// capture the prepared message without a live server.
var sendMail = smtp.SendMail

const defaultSubject = "Application for {{.Title}}"

const defaultBody = `<html><body>
<p>Hello,</p>
<p>Please consider my application for the {{.Title}} position at {{.Company}}.</p>
<p>My resume is attached. I would welcome the chance to discuss the role.</p>
<p>Best regards</p>
</body></html>`

// Config captures the SMTP endpoint and the message templates. Subject and
// Body are Go templates evaluated against the job record, so they can refer
// to {{.Title}}, {{.Company}}, {{.Email}}, {{.Location}} and {{.SourceURL}}.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Subject    string
	Body       string
	ResumePath string
	DryRun     bool
}

// Mailer implements bot.Mailer over net/smtp.
type Mailer struct {
	cfg     Config
	subject *texttemplate.Template
	body    *template.Template
	log     *zap.Logger
}

// New validates cfg, parses the templates and probes the resume file so
// misconfiguration surfaces at startup instead of mid-dispatch.
func New(cfg Config, log *zap.Logger) (*Mailer, error) {
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if !cfg.DryRun {
		if strings.TrimSpace(cfg.Host) == "" {
			return nil, fmt.Errorf("smtp host is required")
		}
		if cfg.Port <= 0 || cfg.Port > 65535 {
			return nil, fmt.Errorf("smtp port must be 1..65535, got %d", cfg.Port)
		}
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultSubject
	}
	if cfg.Body == "" {
		cfg.Body = defaultBody
	}
	subject, err := texttemplate.New("subject").Parse(cfg.Subject)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	body, err := template.New("body").Parse(cfg.Body)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	if cfg.ResumePath != "" {
		if _, err := os.Stat(cfg.ResumePath); err != nil {
			return nil, fmt.Errorf("resume file: %w", err)
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Mailer{
		cfg:     cfg,
		subject: subject,
		body:    body,
		log:     log.Named("mail"),
	}, nil
}

// Send prepares and delivers one application email. A nil return means the
// message was handed to the SMTP server (or, in dry-run mode, fully
// prepared), so the caller records the attempt as sent.
func (m *Mailer) Send(ctx context.Context, rec bot.JobRecord) error {
	subject, err := m.renderSubject(rec)
	if err != nil {
		return err
	}
	msg, err := m.buildMessage(rec, subject)
	if err != nil {
		return err
	}

	if m.cfg.DryRun {
		m.log.Info("dry run, mail prepared but not sent",
			zap.String("to", rec.Email),
			zap.String("subject", subject),
			zap.String("job_id", rec.JobID),
			zap.String("company", rec.Company),
			zap.Int("bytes", len(msg)),
		)
		return nil
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	errCh := make(chan error, 1)
	go func() {
		errCh <- sendMail(addr, m.auth(), m.cfg.From, []string{rec.Email}, msg)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("send mail to %s: %w", rec.Email, err)
		}
	}
	m.log.Info("application sent",
		zap.String("to", rec.Email),
		zap.String("job_id", rec.JobID),
		zap.String("company", rec.Company),
	)
	return nil
}

func (m *Mailer) auth() smtp.Auth {
	if m.cfg.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
}

func (m *Mailer) renderSubject(rec bot.JobRecord) (string, error) {
	var buf bytes.Buffer
	if err := m.subject.Execute(&buf, rec); err != nil {
		return "", fmt.Errorf("render subject: %w", err)
	}
	return buf.String(), nil
}

// buildMessage assembles the raw RFC 5322 message: a bare HTML body, or a
// multipart/mixed envelope when a resume is attached.
func (m *Mailer) buildMessage(rec bot.JobRecord, subject string) ([]byte, error) {
	var body bytes.Buffer
	if err := m.body.Execute(&body, rec); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", rec.Email)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if m.cfg.ResumePath == "" {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		buf.Write(body.Bytes())
		return buf.Bytes(), nil
	}

	w := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())

	htmlPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=utf-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := htmlPart.Write(body.Bytes()); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}

	if err := m.attachResume(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *Mailer) attachResume(w *multipart.Writer) error {
	data, err := os.ReadFile(m.cfg.ResumePath)
	if err != nil {
		return fmt.Errorf("read resume: %w", err)
	}
	name := filepath.Base(m.cfg.ResumePath)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
	})
	if err != nil {
		return fmt.Errorf("create attachment part: %w", err)
	}
	return writeBase64(part, data)
}

// writeBase64 writes data base64-encoded in RFC 2045 76-column lines.
func writeBase64(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 0 {
		n := 76
		if n > len(enc) {
			n = len(enc)
		}
		if _, err := io.WriteString(w, enc[:n]+"\r\n"); err != nil {
			return fmt.Errorf("write attachment: %w", err)
		}
		enc = enc[n:]
	}
	return nil
}
