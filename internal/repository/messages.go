package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/portcall/mailgate/internal/errs"
	"github.com/portcall/mailgate/internal/model"
)

func encodeList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

// SaveMessageWithAttachments persists msg and its attachments as one
// transaction. If a message with the same MessageID already exists, the
// row is left in place; its attachments are backfilled only when the
// existing row has none on file. Returns the row id and whether a new
// message row was inserted.
func (r *Repository) SaveMessageWithAttachments(msg *model.Message, attachments []model.Attachment) (int64, bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, false, errs.Wrap(errs.Storage, err, "repository: begin save")
	}
	defer tx.Rollback()

	var existingID int64
	var existingAttachCount int
	err = tx.QueryRow(`SELECT id FROM messages WHERE message_id = ?`, msg.MessageID).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(`
			INSERT INTO messages
				(message_id, subject, sender, recipients, cc, bcc, text_body, html_body,
				 date_sent, date_received, raw_headers, dispatcher_id, rfq, rfq_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.MessageID, msg.Subject, msg.Sender, encodeList(msg.Recipients), encodeList(msg.CC), encodeList(msg.BCC),
			msg.TextBody, msg.HTMLBody, nullTime(msg.DateSent), msg.DateReceived, msg.RawHeaders,
			msg.DispatcherID, boolToInt(msg.RFQ), msg.RFQType,
		)
		if err != nil {
			return 0, false, errs.Wrap(errs.Storage, err, "repository: insert message")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, errs.Wrap(errs.Storage, err, "repository: last insert id")
		}
		if err := insertAttachments(tx, id, attachments); err != nil {
			return 0, false, err
		}
		if err := tx.Commit(); err != nil {
			return 0, false, errs.Wrap(errs.Storage, err, "repository: commit save")
		}
		return id, true, nil
	case err != nil:
		return 0, false, errs.Wrap(errs.Storage, err, "repository: lookup message")
	}

	if err := tx.QueryRow(`SELECT COUNT(*) FROM attachments WHERE message_id = ?`, existingID).Scan(&existingAttachCount); err != nil {
		return 0, false, errs.Wrap(errs.Storage, err, "repository: count attachments")
	}
	if existingAttachCount == 0 && len(attachments) > 0 {
		if err := insertAttachments(tx, existingID, attachments); err != nil {
			return 0, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, false, errs.Wrap(errs.Storage, err, "repository: commit backfill")
	}
	return existingID, false, nil
}

func insertAttachments(tx *sql.Tx, messageID int64, attachments []model.Attachment) error {
	for _, a := range attachments {
		_, err := tx.Exec(`
			INSERT INTO attachments
				(message_id, original_name, stored_name, file_path, file_size,
				 content_type, disposition_type, content_id, extra)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			messageID, a.OriginalName, a.StoredName, a.FilePath, a.FileSize,
			a.ContentType, a.DispositionType, a.ContentID, a.Extra,
		)
		if err != nil {
			return errs.Wrap(errs.Storage, err, "repository: insert attachment")
		}
	}
	return nil
}

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	var recipients, cc, bcc string
	var dateSent sql.NullTime
	var rfq int
	err := row.Scan(
		&m.ID, &m.MessageID, &m.Subject, &m.Sender, &recipients, &cc, &bcc,
		&m.TextBody, &m.HTMLBody, &dateSent, &m.DateReceived, &m.RawHeaders,
		&m.DispatcherID, &rfq, &m.RFQType,
	)
	if err != nil {
		return nil, err
	}
	m.Recipients = decodeList(recipients)
	m.CC = decodeList(cc)
	m.BCC = decodeList(bcc)
	if dateSent.Valid {
		t := dateSent.Time
		m.DateSent = &t
	}
	m.RFQ = rfq != 0
	return &m, nil
}

const messageColumns = `id, message_id, subject, sender, recipients, cc, bcc, text_body, html_body,
	date_sent, date_received, raw_headers, dispatcher_id, rfq, rfq_type`

// GetMessageByID returns the message with the given row id, or nil if
// absent.
func (r *Repository) GetMessageByID(id int64) (*model.Message, error) {
	row := r.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "repository: get message by id")
	}
	return msg, nil
}

// GetMessageByMessageID returns the message with the given RFC 5322
// Message-Id, or nil if absent.
func (r *Repository) GetMessageByMessageID(messageID string) (*model.Message, error) {
	row := r.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "repository: get message by message_id")
	}
	return msg, nil
}

// ExistsMessage reports whether a message with the given Message-Id is
// already on file. This is the duplicate check the ingestion pipeline
// runs before invoking the rule engine.
func (r *Repository) ExistsMessage(messageID string) (bool, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE message_id = ?`, messageID).Scan(&count)
	if err != nil {
		return false, errs.Wrap(errs.Storage, err, "repository: exists message")
	}
	return count > 0, nil
}

// GetAttachments returns every attachment row for a message, ordered by
// insertion.
func (r *Repository) GetAttachments(messageID int64) ([]model.Attachment, error) {
	rows, err := r.db.Query(`
		SELECT id, message_id, original_name, stored_name, file_path, file_size,
			content_type, disposition_type, content_id, extra
		FROM attachments WHERE message_id = ? ORDER BY id ASC`, messageID)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "repository: get attachments")
	}
	defer rows.Close()

	var out []model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.OriginalName, &a.StoredName, &a.FilePath, &a.FileSize,
			&a.ContentType, &a.DispositionType, &a.ContentID, &a.Extra); err != nil {
			return nil, errs.Wrap(errs.Storage, err, "repository: scan attachment")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListMessages returns up to limit messages ordered newest-received
// first, starting at offset, plus the total row count the filter matches.
// A non-empty senderFilter restricts the page to exact sender matches.
func (r *Repository) ListMessages(limit, offset int, senderFilter string) ([]model.Message, int, error) {
	where := ""
	countArgs := []any{}
	pageArgs := []any{}
	if senderFilter != "" {
		where = ` WHERE sender = ?`
		countArgs = append(countArgs, senderFilter)
		pageArgs = append(pageArgs, senderFilter)
	}
	pageArgs = append(pageArgs, limit, offset)

	var total int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM messages`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, errs.Wrap(errs.Storage, err, "repository: count messages")
	}

	rows, err := r.db.Query(`SELECT `+messageColumns+` FROM messages`+where+` ORDER BY date_received DESC LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, errs.Wrap(errs.Storage, err, "repository: list messages")
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, errs.Wrap(errs.Storage, err, "repository: scan message")
		}
		out = append(out, *m)
	}
	return out, total, rows.Err()
}

// LatestReceivedAt returns the date_received of the most recently stored
// message. The zero value and false are returned if the table is empty.
func (r *Repository) LatestReceivedAt() (time.Time, bool, error) {
	var t sql.NullTime
	err := r.db.QueryRow(`SELECT MAX(date_received) FROM messages`).Scan(&t)
	if err != nil {
		return time.Time{}, false, errs.Wrap(errs.Storage, err, "repository: latest received")
	}
	if !t.Valid {
		return time.Time{}, false, nil
	}
	return t.Time, true, nil
}

// Stats reports message and attachment counts for the health/status
// endpoints.
type Stats struct {
	MessageCount    int `json:"message_count"`
	AttachmentCount int `json:"attachment_count"`
	ForwardCount    int `json:"forward_count"`
}

// Stats computes the current repository-wide counters.
func (r *Repository) Stats() (Stats, error) {
	var s Stats
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&s.MessageCount); err != nil {
		return s, errs.Wrap(errs.Storage, err, "repository: stats messages")
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM attachments`).Scan(&s.AttachmentCount); err != nil {
		return s, errs.Wrap(errs.Storage, err, "repository: stats attachments")
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM forward_records`).Scan(&s.ForwardCount); err != nil {
		return s, errs.Wrap(errs.Storage, err, "repository: stats forwards")
	}
	return s, nil
}

// UpdateField applies a rule engine set_field mutation to a persisted
// message. Only whitelisted fields (model.IsMutable) may be written.
func (r *Repository) UpdateField(messageID int64, field model.MutableField, value string) error {
	if !model.IsMutable(string(field)) {
		return errs.New(errs.Validation, "repository: field not mutable: "+string(field))
	}
	switch field {
	case model.FieldDispatcherID:
		_, err := r.db.Exec(`UPDATE messages SET dispatcher_id = ? WHERE id = ?`, value, messageID)
		if err != nil {
			return errs.Wrap(errs.Storage, err, "repository: update dispatcher_id")
		}
		return nil
	default:
		return errs.New(errs.Validation, "repository: unhandled mutable field: "+string(field))
	}
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
