package model

import "time"

// CanonicalMessage is the in-memory record the canonicalizer produces and
// the rule engine evaluates against. It is a fixed shape with named
// fields; field extractors and the set_field action never touch arbitrary
// keys.
type CanonicalMessage struct {
	MessageID  string
	Subject    string
	Sender     string
	Recipients []string
	CC         []string
	BCC        []string
	TextBody   string
	HTMLBody   string
	RawHeaders string
	DateSent   *time.Time

	DispatcherID string
	RFQ          bool
	RFQType      string

	Attachments []CanonicalAttachment
}

// CanonicalAttachment is one MIME part routed to the attachments list.
type CanonicalAttachment struct {
	Filename        string
	Content         []byte
	ContentType     string
	DispositionType string
	ContentID       string
}

// Set applies a MutableField/value pair to the canonical record. It is the
// only way a rule action may mutate message state.
func (c *CanonicalMessage) Set(field MutableField, value string) bool {
	switch field {
	case FieldDispatcherID:
		c.DispatcherID = value
		return true
	default:
		return false
	}
}

// FieldValue extracts the raw string a Condition of the given FieldType
// compares against, for sender and subject only. The remaining field
// kinds (body, header, attachment) live in the rules package's extractor
// registry, which needs context beyond this struct.
func (c *CanonicalMessage) FieldValue(f FieldType) (string, bool) {
	switch f {
	case FieldSender:
		return c.Sender, true
	case FieldSubject:
		return c.Subject, true
	default:
		return "", false
	}
}
