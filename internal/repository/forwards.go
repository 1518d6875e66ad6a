package repository

import (
	"database/sql"
	"time"

	"github.com/portcall/mailgate/internal/errs"
	"github.com/portcall/mailgate/internal/model"
)

// SaveForward inserts a new ForwardRecord in the pending state and
// returns its row id.
func (r *Repository) SaveForward(fr *model.ForwardRecord) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO forward_records
			(message_id, to_addresses, cc_addresses, bcc_addresses, additional_message,
			 status, error_message, forwarded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fr.MessageID, encodeList(fr.To), encodeList(fr.CC), encodeList(fr.BCC), fr.AdditionalMessage,
		model.ForwardPending, "", nil, fr.CreatedAt,
	)
	if err != nil {
		return 0, errs.Wrap(errs.Storage, err, "repository: save forward")
	}
	return res.LastInsertId()
}

// UpdateForwardStatus transitions a ForwardRecord to sent or failed,
// recording the error message (empty on success) and, on success, the
// forwarded_at timestamp. Only a record still in the pending state is
// updated, so a sent or failed record is never changed again.
func (r *Repository) UpdateForwardStatus(id int64, status model.ForwardStatus, forwardErr string, forwardedAt *time.Time) error {
	_, err := r.db.Exec(`
		UPDATE forward_records SET status = ?, error_message = ?, forwarded_at = ? WHERE id = ? AND status = ?`,
		status, forwardErr, nullTime(forwardedAt), id, model.ForwardPending,
	)
	if err != nil {
		return errs.Wrap(errs.Storage, err, "repository: update forward status")
	}
	return nil
}

// GetForward returns the forward record with the given id, or nil if
// absent.
func (r *Repository) GetForward(id int64) (*model.ForwardRecord, error) {
	row := r.db.QueryRow(`
		SELECT id, message_id, to_addresses, cc_addresses, bcc_addresses, additional_message,
			status, error_message, forwarded_at, created_at
		FROM forward_records WHERE id = ?`, id)
	fr, err := scanForward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "repository: get forward")
	}
	return fr, nil
}

// ListForwards returns every forward attempt recorded for a message,
// oldest first.
func (r *Repository) ListForwards(messageID int64) ([]model.ForwardRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, message_id, to_addresses, cc_addresses, bcc_addresses, additional_message,
			status, error_message, forwarded_at, created_at
		FROM forward_records WHERE message_id = ? ORDER BY id ASC`, messageID)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "repository: list forwards")
	}
	defer rows.Close()

	var out []model.ForwardRecord
	for rows.Next() {
		fr, err := scanForward(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Storage, err, "repository: scan forward")
		}
		out = append(out, *fr)
	}
	return out, rows.Err()
}

func scanForward(row interface{ Scan(...any) error }) (*model.ForwardRecord, error) {
	var fr model.ForwardRecord
	var to, cc, bcc string
	var status string
	var forwardedAt sql.NullTime
	err := row.Scan(&fr.ID, &fr.MessageID, &to, &cc, &bcc, &fr.AdditionalMessage,
		&status, &fr.ErrorMessage, &forwardedAt, &fr.CreatedAt)
	if err != nil {
		return nil, err
	}
	fr.To = decodeList(to)
	fr.CC = decodeList(cc)
	fr.BCC = decodeList(bcc)
	fr.Status = model.ForwardStatus(status)
	if forwardedAt.Valid {
		t := forwardedAt.Time
		fr.ForwardedAt = &t
	}
	return &fr, nil
}
