package mailbox

import (
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/portcall/mailgate/internal/errs"
)

// SearchCriteria is a conjunction of upstream-native terms. The baseline
// criterion is "processed flag unset"; Since, if non-zero, adds a SINCE
// bound.
type SearchCriteria struct {
	Since time.Time
	Limit int
}

// Search returns uids matching criteria, preserving the order the server
// returned them in.
func (c *Client) Search(criteria SearchCriteria) ([]imap.UID, error) {
	if c.state != stateFolderSelected {
		return nil, errs.New(errs.Transport, "imap: no folder selected")
	}

	crit := &imap.SearchCriteria{
		NotFlag: []imap.Flag{ProcessedFlag},
	}
	if !criteria.Since.IsZero() {
		crit.Since = criteria.Since
	}

	data, err := c.client.UIDSearch(crit, nil).Wait()
	if err != nil {
		return nil, errs.Wrap(errs.Transport, err, "imap: uid search")
	}

	uids := data.AllUIDs()
	if criteria.Limit > 0 && len(uids) > criteria.Limit {
		uids = uids[:criteria.Limit]
	}
	return uids, nil
}

// FetchRaw returns the complete RFC-822 bytes for uid plus its current flag
// set. It never parses the bytes. A uid that has vanished between Search
// and FetchRaw surfaces as NotFoundError.
func (c *Client) FetchRaw(uid imap.UID) ([]byte, []imap.Flag, error) {
	if c.state != stateFolderSelected {
		return nil, nil, errs.New(errs.Transport, "imap: no folder selected")
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(uid)

	fetchOptions := &imap.FetchOptions{
		Flags: true,
		UID:   true,
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierNone, Peek: true},
		},
	}

	fetchCmd := c.client.Fetch(uidSet, fetchOptions)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, nil, errs.New(errs.NotFound, "imap: uid vanished before fetch")
	}

	var raw []byte
	var flags []imap.Flag
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataFlags:
			flags = data.Flags
		case imapclient.FetchItemDataBodySection:
			if data.Literal != nil {
				b, err := io.ReadAll(data.Literal)
				if err != nil {
					return nil, nil, errs.Wrap(errs.Transport, err, "imap: read body literal")
				}
				raw = b
			}
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, nil, errs.Wrap(errs.Transport, err, "imap: fetch")
	}
	if raw == nil {
		return nil, nil, errs.New(errs.NotFound, "imap: uid vanished before fetch")
	}
	return raw, flags, nil
}

// SetProcessedFlag adds or removes the custom processed marker on uid.
func (c *Client) SetProcessedFlag(uid imap.UID, processed bool) error {
	if c.state != stateFolderSelected {
		return errs.New(errs.Transport, "imap: no folder selected")
	}
	uidSet := imap.UIDSet{}
	uidSet.AddNum(uid)

	op := imap.StoreFlagsDel
	if processed {
		op = imap.StoreFlagsAdd
	}
	storeFlags := &imap.StoreFlags{
		Op:     op,
		Flags:  []imap.Flag{ProcessedFlag},
		Silent: true,
	}
	if err := c.client.Store(uidSet, storeFlags, nil).Close(); err != nil {
		return errs.Wrap(errs.Transport, err, "imap: store processed flag")
	}
	return nil
}

// MarkSeen sets the standard \Seen flag on uid.
func (c *Client) MarkSeen(uid imap.UID) error {
	if c.state != stateFolderSelected {
		return errs.New(errs.Transport, "imap: no folder selected")
	}
	uidSet := imap.UIDSet{}
	uidSet.AddNum(uid)
	storeFlags := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Flags:  []imap.Flag{imap.FlagSeen},
		Silent: true,
	}
	if err := c.client.Store(uidSet, storeFlags, nil).Close(); err != nil {
		return errs.Wrap(errs.Transport, err, "imap: mark seen")
	}
	return nil
}
