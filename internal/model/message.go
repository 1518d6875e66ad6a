// Package model defines the canonical records exchanged between mailgate's
// components: messages, attachments, forward records, and rules.
package model

import "time"

// Message is the canonical, persisted representation of one ingested email.
type Message struct {
	ID           int64
	MessageID    string
	Subject      string
	Sender       string
	Recipients   []string
	CC           []string
	BCC          []string
	TextBody     string
	HTMLBody     string
	DateSent     *time.Time
	DateReceived time.Time
	RawHeaders   string
	DispatcherID string
	RFQ          bool
	RFQType      string
}

// Attachment is a file attached to a Message, stored on disk or in S3.
type Attachment struct {
	ID              int64
	MessageID       int64
	OriginalName    string
	StoredName      string
	FilePath        string
	FileSize        int64
	ContentType     string
	DispositionType string
	ContentID       string
	Extra           string // JSON blob produced by a post-processor, empty if none ran
}

// ForwardStatus is the lifecycle state of a ForwardRecord.
type ForwardStatus string

const (
	ForwardPending ForwardStatus = "pending"
	ForwardSent    ForwardStatus = "sent"
	ForwardFailed  ForwardStatus = "failed"
)

// ForwardRecord tracks one attempt to forward a stored Message.
type ForwardRecord struct {
	ID                int64
	MessageID         int64
	To                []string
	CC                []string
	BCC               []string
	AdditionalMessage string
	Status            ForwardStatus
	ErrorMessage      string
	ForwardedAt       *time.Time
	CreatedAt         time.Time
}

// MutableField enumerates the Message fields a rule's set_field action may
// change. A closed enum keeps rule actions from writing arbitrary keys.
type MutableField string

const (
	FieldDispatcherID MutableField = "dispatcher_id"
)

// IsMutable reports whether name is a whitelisted mutable field.
func IsMutable(name string) bool {
	return MutableField(name) == FieldDispatcherID
}

// SyncStats accumulates counters for one ingestion tick.
type SyncStats struct {
	TotalProcessed    int           `json:"total_processed"`
	NewEmails         int           `json:"new_emails"`
	DuplicatesSkipped int           `json:"duplicates_skipped"`
	RuleSkipped       int           `json:"rule_skipped"`
	Errors            int           `json:"errors"`
	LastMessageID     string        `json:"last_message_id"`
	SyncTime          time.Duration `json:"sync_time"`
}
