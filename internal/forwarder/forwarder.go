// Package forwarder re-sends a stored Message, with its attachments, to
// a new recipient list over outbound SMTP, recording a ForwardRecord for
// every attempt.
package forwarder

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/portcall/mailgate/internal/attachstore"
	"github.com/portcall/mailgate/internal/errs"
	"github.com/portcall/mailgate/internal/model"
	"github.com/portcall/mailgate/internal/repository"
)

// bodyTagPattern matches an opening <body> tag with or without
// attributes.
var bodyTagPattern = regexp.MustCompile(`(?i)<body[^>]*>`)

// Config configures the outbound SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Forwarder re-sends persisted messages through the configured SMTP
// relay, recording a ForwardRecord for every attempt.
type Forwarder struct {
	cfg    Config
	repo   *repository.Repository
	store  *attachstore.Store
	logger *log.Logger
}

// New builds a Forwarder.
func New(cfg Config, repo *repository.Repository, store *attachstore.Store, logger *log.Logger) *Forwarder {
	if logger == nil {
		logger = log.Default()
	}
	return &Forwarder{cfg: cfg, repo: repo, store: store, logger: logger}
}

// Request is the forward operation's input, one per
// POST /emails/{email_id}/forward call.
type Request struct {
	MessageID         int64
	To                []string
	CC                []string
	BCC               []string
	AdditionalMessage string
}

// Forward builds and sends a forwarded copy of the message identified by
// req.MessageID, recording a ForwardRecord transitioning pending to sent
// or pending to failed. A validation failure (no message, empty To) is
// returned before any ForwardRecord is created.
func (f *Forwarder) Forward(ctx context.Context, req Request) (*model.ForwardRecord, error) {
	if len(req.To) == 0 {
		return nil, errs.New(errs.Validation, "forwarder: to_addresses must not be empty")
	}

	msg, err := f.repo.GetMessageByID(req.MessageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errs.New(errs.NotFound, "forwarder: message not found")
	}
	attachments, err := f.repo.GetAttachments(req.MessageID)
	if err != nil {
		return nil, err
	}

	record := &model.ForwardRecord{
		MessageID:         req.MessageID,
		To:                req.To,
		CC:                req.CC,
		BCC:               req.BCC,
		AdditionalMessage: req.AdditionalMessage,
		Status:            model.ForwardPending,
		CreatedAt:         time.Now(),
	}
	id, err := f.repo.SaveForward(record)
	if err != nil {
		return nil, err
	}
	record.ID = id

	raw, buildErr := f.buildMessage(ctx, msg, attachments, req)
	if buildErr != nil {
		f.fail(record, buildErr)
		return record, buildErr
	}

	recipients := append(append(append([]string{}, req.To...), req.CC...), req.BCC...)
	if sendErr := f.send(ctx, raw, recipients); sendErr != nil {
		f.fail(record, sendErr)
		return record, sendErr
	}

	now := time.Now()
	record.Status = model.ForwardSent
	record.ForwardedAt = &now
	if err := f.repo.UpdateForwardStatus(record.ID, model.ForwardSent, "", &now); err != nil {
		f.logger.Printf("forwarder: failed to record sent status for forward %d: %v", record.ID, err)
	}
	return record, nil
}

func (f *Forwarder) fail(record *model.ForwardRecord, cause error) {
	record.Status = model.ForwardFailed
	record.ErrorMessage = cause.Error()
	if err := f.repo.UpdateForwardStatus(record.ID, model.ForwardFailed, cause.Error(), nil); err != nil {
		f.logger.Printf("forwarder: failed to record failed status for forward %d: %v", record.ID, err)
	}
}

// forwardSubject prepends "Fwd: " unless the subject already starts with
// a forward marker. The prefix check is case-sensitive: "fwd:" gets a
// second prefix, "FW:" does not.
func forwardSubject(subject string) string {
	if strings.HasPrefix(subject, "Fwd:") || strings.HasPrefix(subject, "FW:") {
		return subject
	}
	return "Fwd: " + subject
}

// forwardHeader renders the "---------- Forwarded message ----------"
// block.
func forwardHeader(msg *model.Message) string {
	var b strings.Builder
	b.WriteString("---------- Forwarded message ----------\n")
	fmt.Fprintf(&b, "From: %s\n", msg.Sender)
	if msg.DateSent != nil {
		fmt.Fprintf(&b, "Date: %s\n", msg.DateSent.Format(time.RFC1123Z))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.Recipients, ", "))
	if len(msg.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.CC, ", "))
	}
	return b.String()
}

// insertHTMLForwardContent inserts the forward header and the optional
// additional message right after the opening <body> tag. If no <body>
// tag is found the HTML is returned unchanged and a warning is logged.
func (f *Forwarder) insertHTMLForwardContent(html, header, additional string) string {
	loc := bodyTagPattern.FindStringIndex(html)
	if loc == nil {
		logger := f.logger
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("forwarder: no <body> tag found in HTML content, forwarding without header insertion")
		return html
	}
	insertAt := loc[1]

	var insert strings.Builder
	if additional != "" {
		fmt.Fprintf(&insert, `<div style="margin-bottom: 15px; padding: 10px; background-color: #e8f4f8; border-radius: 5px;"><p style="margin: 0; color: #2c5aa0;"><strong>Forwarded with note:</strong> %s</p></div>`, additional)
	}
	htmlHeader := strings.ReplaceAll(header, "\n", "<br>")
	fmt.Fprintf(&insert, `<pre style="font-family: monospace; margin: 10px 0; padding: 10px; background-color: #f5f5f5; border-left: 3px solid #ccc;">%s</pre>`, htmlHeader)

	return html[:insertAt] + insert.String() + html[insertAt:]
}

// buildForwardBody constructs the outbound body, branching on whether
// the stored message carried HTML.
func (f *Forwarder) buildForwardBody(msg *model.Message, additional string) (body string, isHTML bool) {
	header := forwardHeader(msg)
	if msg.HTMLBody != "" {
		return f.insertHTMLForwardContent(msg.HTMLBody, header, additional), true
	}

	var parts []string
	if additional != "" {
		parts = append(parts, additional, "")
	}
	parts = append(parts, header, "")
	if msg.TextBody != "" {
		parts = append(parts, msg.TextBody)
	}
	return strings.Join(parts, "\n"), false
}

// buildMessage renders a full RFC 5322 message (headers, body, and
// re-attached files) ready for SMTP DATA.
func (f *Forwarder) buildMessage(ctx context.Context, msg *model.Message, attachments []model.Attachment, req Request) ([]byte, error) {
	body, isHTML := f.buildForwardBody(msg, req.AdditionalMessage)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", f.cfg.Username)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(req.To, ", "))
	if len(req.CC) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(req.CC, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", forwardSubject(msg.Subject)))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", writer.Boundary())

	bodyContentType := "text/plain; charset=utf-8"
	if isHTML {
		bodyContentType = "text/html; charset=utf-8"
	}
	bodyHeader := textproto.MIMEHeader{}
	bodyHeader.Set("Content-Type", bodyContentType)
	bodyHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	bodyPart, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, err, "forwarder: create body part")
	}
	qp := quotedprintable.NewWriter(bodyPart)
	if _, err := qp.Write([]byte(body)); err != nil {
		return nil, errs.Wrap(errs.Transport, err, "forwarder: write body")
	}
	if err := qp.Close(); err != nil {
		return nil, errs.Wrap(errs.Transport, err, "forwarder: close body writer")
	}

	for _, att := range attachments {
		if err := f.attachFile(ctx, writer, att); err != nil {
			// A single unreadable attachment is logged and skipped, not
			// fatal to the forward.
			f.logger.Printf("forwarder: skipping attachment %q: %v", att.OriginalName, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, errs.Wrap(errs.Transport, err, "forwarder: close multipart writer")
	}
	return buf.Bytes(), nil
}

func (f *Forwarder) attachFile(ctx context.Context, writer *multipart.Writer, att model.Attachment) error {
	data, err := f.store.Read(ctx, att.StoredName)
	if err != nil {
		return err
	}
	if data == nil {
		return errs.New(errs.NotFound, "forwarder: attachment file not found: "+att.FilePath)
	}

	disposition := att.DispositionType
	if disposition == "" {
		disposition = "attachment"
	}
	header := textproto.MIMEHeader{}
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "base64")
	header.Set("Content-Disposition", fmt.Sprintf(`%s; filename="%s"`, disposition, att.OriginalName))
	if att.ContentID != "" {
		header.Set("Content-Id", "<"+att.ContentID+">")
	}

	part, err := writer.CreatePart(header)
	if err != nil {
		return errs.Wrap(errs.Transport, err, "forwarder: create attachment part")
	}
	encoder := base64.NewEncoder(base64.StdEncoding, part)
	if _, err := encoder.Write(data); err != nil {
		return errs.Wrap(errs.Transport, err, "forwarder: write attachment")
	}
	return encoder.Close()
}

// send relays raw over implicit TLS to the configured SMTP server via
// the explicit MAIL/RCPT/DATA sequence rather than a one-shot helper: a
// single connection covers every recipient, and a per-RCPT rejection
// surfaces with the offending address in the error.
func (f *Forwarder) send(ctx context.Context, raw []byte, recipients []string) error {
	addr := fmt.Sprintf("%s:%d", f.cfg.Host, f.cfg.Port)
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: f.cfg.Host})
	if err != nil {
		return errs.Wrap(errs.Transport, err, "forwarder: dial smtp")
	}

	client := gosmtp.NewClient(conn)
	defer client.Close()

	auth := sasl.NewPlainClient("", f.cfg.Username, f.cfg.Password)
	if err := client.Auth(auth); err != nil {
		return errs.Wrap(errs.Auth, err, "forwarder: smtp auth")
	}

	if err := client.Mail(f.cfg.Username, nil); err != nil {
		return errs.Wrap(errs.Transport, err, "forwarder: mail from")
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt, nil); err != nil {
			return errs.Wrap(errs.Transport, err, "forwarder: rcpt to "+rcpt)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return errs.Wrap(errs.Transport, err, "forwarder: data")
	}
	if _, err := wc.Write(raw); err != nil {
		wc.Close()
		return errs.Wrap(errs.Transport, err, "forwarder: write message body")
	}
	if err := wc.Close(); err != nil {
		return errs.Wrap(errs.Transport, err, "forwarder: close data writer")
	}
	return nil
}
