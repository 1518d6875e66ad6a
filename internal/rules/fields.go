package rules

import (
	"strings"

	"github.com/portcall/mailgate/internal/model"
)

// fieldExtractorFunc resolves a FieldType to the string a Condition
// compares against. The registry is a total function over the field
// enum: an unknown field kind yields "" rather than an error, so a rule
// referencing a field this build doesn't implement is compared against
// the empty string instead of failing the whole evaluation (negating
// operators such as not_contains therefore match it).
type fieldExtractorFunc func(msg *model.CanonicalMessage) string

var fieldExtractors = map[model.FieldType]fieldExtractorFunc{
	// sender decodes any display-name wrapper and returns the bare
	// address. The canonicalizer already stores Sender as a bare address;
	// extractSender keeps the fallback for a value that slipped through
	// with a "Name <addr>" shape undecoded.
	model.FieldSender: extractSender,
	model.FieldSubject: func(msg *model.CanonicalMessage) string {
		return msg.Subject
	},
	// body, header, and attachment carry real extractors rather than
	// empty stubs.
	model.FieldBody:       extractBody,
	model.FieldHeader:     extractHeader,
	model.FieldAttachment: extractAttachmentNames,
}

func extractSender(msg *model.CanonicalMessage) string {
	sender := strings.TrimSpace(msg.Sender)
	if idx := strings.LastIndex(sender, "<"); idx >= 0 && strings.HasSuffix(sender, ">") {
		return strings.TrimSpace(sender[idx+1 : len(sender)-1])
	}
	return sender
}

// extractBody returns the plain-text body, falling back to the HTML
// body when no plain-text part exists.
func extractBody(msg *model.CanonicalMessage) string {
	if msg.TextBody != "" {
		return msg.TextBody
	}
	return msg.HTMLBody
}

// extractHeader returns the raw header block. A Condition carries no
// header-name parameter, so the whole block is exposed and substring or
// regex operators pick out the header of interest.
func extractHeader(msg *model.CanonicalMessage) string {
	return msg.RawHeaders
}

// extractAttachmentNames joins every attachment's decoded filename,
// space-separated, so a contains/regex condition can test for a filename
// substring across all attachments on the message.
func extractAttachmentNames(msg *model.CanonicalMessage) string {
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Filename)
	}
	return strings.Join(names, " ")
}

// extractField returns the field value a Condition matches against. An
// unimplemented field kind returns empty rather than erroring.
func extractField(field model.FieldType, msg *model.CanonicalMessage) string {
	fn, ok := fieldExtractors[field]
	if !ok {
		return ""
	}
	return fn(msg)
}
