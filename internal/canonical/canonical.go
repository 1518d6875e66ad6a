// Package canonical decodes raw RFC-822 bytes into a
// model.CanonicalMessage, walking the MIME tree with
// github.com/emersion/go-message. The charset subpackage is imported for
// its side effect of registering non-UTF-8 decoders. Header word-decoding
// and the filename decode chain are hand-rolled because go-message's own
// encoded-word handling does not cover the fallback order mail in the
// wild needs.
package canonical

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"

	emmessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/portcall/mailgate/internal/errs"
	"github.com/portcall/mailgate/internal/model"
)

// MaxBodyBytes caps how much of a single text part is retained so a
// runaway part can't blow up memory during a sync tick.
const MaxBodyBytes = 64 * 1024

// Result is what Canonicalize returns: the decoded message plus any
// warnings raised while decoding it.
type Result struct {
	Message  *model.CanonicalMessage
	Warnings []string
}

// Canonicalize decodes raw RFC-822 bytes into a CanonicalMessage. A
// malformed part is skipped with a warning (returned in Warnings); a
// totally unparseable message returns a ParseError.
func Canonicalize(raw []byte) (*Result, error) {
	entity, err := emmessage.Read(bytes.NewReader(raw))
	if err != nil && entity == nil {
		return nil, errs.Wrap(errs.Parse, err, "canonical: read message")
	}

	res := &Result{Message: &model.CanonicalMessage{}}
	msg := res.Message

	msg.RawHeaders = renderHeaders(entity.Header)
	msg.MessageID = cleanHeaderText(decodeHeaderWords(entity.Header.Get("Message-Id")))
	msg.Subject = cleanHeaderText(decodeHeaderWords(entity.Header.Get("Subject")))

	if from := entity.Header.Get("From"); from != "" {
		msg.Sender = firstAddress(decodeHeaderWords(from))
	}
	msg.Recipients = addressList(decodeHeaderWords(entity.Header.Get("To")))
	msg.CC = addressList(decodeHeaderWords(entity.Header.Get("Cc")))
	msg.BCC = addressList(decodeHeaderWords(entity.Header.Get("Bcc")))

	if d := entity.Header.Get("Date"); d != "" {
		if t, err := mail.ParseDate(d); err == nil {
			msg.DateSent = &t
		}
	}

	if err := walk(entity, msg, res); err != nil {
		return nil, errs.Wrap(errs.Parse, err, "canonical: walk mime tree")
	}

	if msg.MessageID == "" {
		res.Warnings = append(res.Warnings, "canonical: message has no Message-ID")
	}

	return res, nil
}

// walk accumulates text/html bodies and routes attachment-shaped parts:
// a part with a disposition containing "attachment", or with any
// filename, goes to the attachments list instead of the bodies.
func walk(entity *emmessage.Entity, msg *model.CanonicalMessage, res *Result) error {
	mr := entity.MultipartReader()
	if mr == nil {
		return accumulatePart(entity, msg, res)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("canonical: malformed part skipped: %v", err))
			break
		}
		if nested := part.MultipartReader(); nested != nil {
			if err := walk(part, msg, res); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("canonical: nested part skipped: %v", err))
			}
			continue
		}
		if err := accumulatePart(part, msg, res); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("canonical: part skipped: %v", err))
		}
	}
	return nil
}

func accumulatePart(entity *emmessage.Entity, msg *model.CanonicalMessage, res *Result) error {
	contentType, ctParams, _ := parseContentType(entity.Header.Get("Content-Type"))
	disposition, dispParams, _ := parseContentType(entity.Header.Get("Content-Disposition"))
	filename := filenameFromParams(ctParams, dispParams)

	isAttachment := strings.Contains(strings.ToLower(disposition), "attachment") || filename != ""

	if isAttachment {
		body, err := io.ReadAll(io.LimitReader(entity.Body, 64*1024*1024))
		if err != nil {
			return err
		}
		if len(body) == 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("canonical: dropping empty attachment %q", filename))
			return nil
		}
		cid := strings.Trim(entity.Header.Get("Content-Id"), "<>")
		msg.Attachments = append(msg.Attachments, model.CanonicalAttachment{
			Filename:        decodeFilename(filename),
			Content:         body,
			ContentType:     contentType,
			DispositionType: firstToken(disposition),
			ContentID:       cid,
		})
		return nil
	}

	switch strings.ToLower(contentType) {
	case "text/plain":
		text := readLimited(entity.Body)
		msg.TextBody += text
	case "text/html":
		html := readLimited(entity.Body)
		msg.HTMLBody += html
	default:
		// Non-text, non-attachment part (e.g. a standalone text/calendar
		// invite): skipped; only text/plain and text/html accumulate.
	}
	return nil
}

func readLimited(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, MaxBodyBytes))
	return string(b)
}

func firstToken(s string) string {
	parts := strings.SplitN(s, ";", 2)
	return strings.ToLower(strings.TrimSpace(parts[0]))
}

func parseContentType(v string) (string, map[string]string, error) {
	if v == "" {
		return "", nil, nil
	}
	t, params, err := mime.ParseMediaType(v)
	if err != nil {
		// Tolerate a bare type with no parameters or minor malformation,
		// matching the canonicalizer's "never raise for one bad part" rule.
		return firstToken(v), nil, nil
	}
	return t, params, nil
}

func filenameFromParams(ctParams, dispParams map[string]string) string {
	if v, ok := dispParams["filename"]; ok && v != "" {
		return v
	}
	if v, ok := ctParams["name"]; ok && v != "" {
		return v
	}
	return ""
}

func firstAddress(headerValue string) string {
	addrs, err := mail.ParseAddressList(headerValue)
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(headerValue)
	}
	return addrs[0].Address
}

func addressList(headerValue string) []string {
	if headerValue == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(headerValue)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func renderHeaders(h emmessage.Header) string {
	var b strings.Builder
	fields := h.Fields()
	for fields.Next() {
		b.WriteString(fields.Key())
		b.WriteString(": ")
		b.WriteString(fields.Value())
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
