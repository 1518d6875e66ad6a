// Package pipeline orchestrates one ingestion tick: mailbox search,
// fetch, canonicalization, rule evaluation, attachment materialization,
// post-processing, and persistence, finishing each handled uid by adding
// the upstream processed keyword.
package pipeline

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/portcall/mailgate/internal/attachstore"
	"github.com/portcall/mailgate/internal/canonical"
	"github.com/portcall/mailgate/internal/errs"
	"github.com/portcall/mailgate/internal/mailbox"
	"github.com/portcall/mailgate/internal/model"
	"github.com/portcall/mailgate/internal/postprocess"
	"github.com/portcall/mailgate/internal/repository"
	"github.com/portcall/mailgate/internal/rules"
)

type imapUID = imap.UID

// Pipeline wires one ingestion tick end to end. It holds no per-run
// state; Run constructs a fresh mailbox session for each invocation, and
// sessions are never shared across ticks.
type Pipeline struct {
	mailboxCfg mailbox.Config
	folder     string
	repo       *repository.Repository
	store      *attachstore.Store
	engine     *rules.Engine
	postproc   *postprocess.Registry
	logger     *log.Logger
}

// New builds a Pipeline. folder is the primary mailbox folder to select
// each run (e.g. "INBOX").
func New(mailboxCfg mailbox.Config, folder string, repo *repository.Repository, store *attachstore.Store, engine *rules.Engine, postproc *postprocess.Registry, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{mailboxCfg: mailboxCfg, folder: folder, repo: repo, store: store, engine: engine, postproc: postproc, logger: logger}
}

// RunOptions bounds one tick; both fields come straight from the manual
// trigger's query parameters and are zero for scheduled runs.
type RunOptions struct {
	Limit int
	Since time.Time
}

// Run executes one ingestion tick: connect, search, then process every
// matched uid in the order the server returned them. A per-uid failure
// increments Errors and continues with the next uid; it never aborts the
// tick.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (model.SyncStats, error) {
	stats := model.SyncStats{}
	start := time.Now()

	client := mailbox.New(p.mailboxCfg)
	if err := client.Connect(); err != nil {
		return stats, errs.Wrap(errs.Transport, err, "pipeline: connect")
	}
	defer client.Disconnect()

	if err := client.SelectFolder(p.folder); err != nil {
		return stats, errs.Wrap(errs.Transport, err, "pipeline: select folder")
	}

	activeRules, err := p.repo.LoadActiveRules()
	if err != nil {
		return stats, errs.Wrap(errs.Storage, err, "pipeline: load rules")
	}

	uids, err := client.Search(mailbox.SearchCriteria{Since: opts.Since, Limit: opts.Limit})
	if err != nil {
		return stats, errs.Wrap(errs.Transport, err, "pipeline: search")
	}
	p.logger.Printf("pipeline: %d messages to process", len(uids))

	for _, uid := range uids {
		stats.TotalProcessed++
		outcome := p.processOne(ctx, client, uid, activeRules)
		switch outcome.kind {
		case outcomeDuplicate:
			stats.DuplicatesSkipped++
			stats.LastMessageID = outcome.messageID
		case outcomeRuleSkipped:
			stats.RuleSkipped++
		case outcomeStored:
			stats.NewEmails++
			stats.LastMessageID = outcome.messageID
		case outcomeError:
			stats.Errors++
			p.logger.Printf("pipeline: uid %v failed: %v", uid, outcome.err)
		}
	}

	stats.SyncTime = time.Since(start)
	return stats, nil
}

type outcomeKind int

const (
	outcomeError outcomeKind = iota
	outcomeDuplicate
	outcomeRuleSkipped
	outcomeStored
)

type outcome struct {
	kind      outcomeKind
	messageID string
	err       error
}

// processOne takes a single uid from raw fetch to committed row. The
// processed keyword is added only after the repository commit (or when
// the uid is a duplicate or rule-skipped), so a crash mid-message leaves
// the uid eligible for retry on the next tick.
func (p *Pipeline) processOne(ctx context.Context, client *mailbox.Client, uid imapUID, activeRules []model.Rule) outcome {
	raw, _, err := client.FetchRaw(uid)
	if err != nil {
		return outcome{kind: outcomeError, err: err}
	}

	result, err := canonical.Canonicalize(raw)
	if err != nil {
		// Unparseable message: count as an error and leave the uid
		// unflagged so the next tick retries it.
		return outcome{kind: outcomeError, err: err}
	}
	for _, w := range result.Warnings {
		p.logger.Printf("pipeline: uid %v: %s", uid, w)
	}
	msg := result.Message

	if msg.MessageID == "" {
		// No identity means no dedup key; leave the uid for the operator
		// to investigate rather than marking it processed.
		return outcome{kind: outcomeError, err: errs.New(errs.Parse, "pipeline: message has no Message-ID")}
	}

	exists, err := p.repo.ExistsMessage(msg.MessageID)
	if err != nil {
		return outcome{kind: outcomeError, err: err}
	}
	if exists {
		if err := client.SetProcessedFlag(uid, true); err != nil {
			return outcome{kind: outcomeError, err: err}
		}
		return outcome{kind: outcomeDuplicate, messageID: msg.MessageID}
	}

	classifyRFQ(msg)

	effect := p.engine.Evaluate(activeRules, msg)
	for _, e := range effect.Errors {
		p.logger.Printf("pipeline: uid %v rule error: %s", uid, e)
	}
	applyFieldModifications(msg, effect.FieldModifications)

	if effect.ShouldSkip {
		if err := client.SetProcessedFlag(uid, true); err != nil {
			return outcome{kind: outcomeError, err: err}
		}
		return outcome{kind: outcomeRuleSkipped}
	}

	attachments := p.saveAttachments(ctx, uid, msg)

	if msg.RFQ && p.postproc != nil {
		p.applyPostProcessing(ctx, msg, attachments)
	}

	dbMessage := toDBMessage(msg)
	dbAttachments := toDBAttachments(attachments)

	if _, _, err := p.repo.SaveMessageWithAttachments(dbMessage, dbAttachments); err != nil {
		// DB failure at the message level: leave the uid unflagged so the
		// next tick retries.
		return outcome{kind: outcomeError, err: err}
	}

	if err := client.SetProcessedFlag(uid, true); err != nil {
		return outcome{kind: outcomeError, err: err}
	}

	return outcome{kind: outcomeStored, messageID: msg.MessageID}
}

// savedAttachment bundles a materialized attachment's file location with
// its originating canonical part, so post-processing can re-read bytes
// and the final Repository write has the stored path.
type savedAttachment struct {
	canonical model.CanonicalAttachment
	stored    attachstore.SaveResult
	extra     string
}

// saveAttachments persists each attachment's bytes. One failed write
// does not block the rest of the message; the failure is logged and that
// attachment is dropped from the batch.
func (p *Pipeline) saveAttachments(ctx context.Context, uid imapUID, msg *model.CanonicalMessage) []savedAttachment {
	out := make([]savedAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		res, err := p.store.Save(ctx, uidString(uid), att.Filename, att.Content, time.Now())
		if err != nil {
			p.logger.Printf("pipeline: uid %v: attachment %q failed to save: %v", uid, att.Filename, err)
			continue
		}
		out = append(out, savedAttachment{canonical: att, stored: res})
	}
	return out
}

// applyPostProcessing runs the post-processor registry over attachments
// already on disk. An extractor failure is logged and leaves that
// attachment's extra field empty.
func (p *Pipeline) applyPostProcessing(ctx context.Context, msg *model.CanonicalMessage, attachments []savedAttachment) {
	canonicalAttachments := make([]model.CanonicalAttachment, len(attachments))
	for i, a := range attachments {
		canonicalAttachments[i] = a.canonical
	}
	results := p.postproc.Process(ctx, msg.RFQType, canonicalAttachments)
	for i, r := range results {
		if r.Err != nil {
			p.logger.Printf("pipeline: post-processor failed for %q: %v", attachments[i].canonical.Filename, r.Err)
			continue
		}
		attachments[i].extra = r.Extra
	}
}

// applyFieldModifications mutates msg per the rule engine's effect set;
// the initial insert then carries the mutation into the database.
func applyFieldModifications(msg *model.CanonicalMessage, mods map[string]string) {
	for field, value := range mods {
		msg.Set(model.MutableField(field), value)
	}
}

// classifyRFQ tags msg as a request-for-quote when its sender matches a
// known procurement-platform domain, which routes its attachments to the
// matching post-processor.
func classifyRFQ(msg *model.CanonicalMessage) {
	if strings.Contains(strings.ToLower(msg.Sender), "shipserv") {
		msg.RFQ = true
		msg.RFQType = "shipserv"
	}
}

func toDBMessage(msg *model.CanonicalMessage) *model.Message {
	return &model.Message{
		MessageID:    msg.MessageID,
		Subject:      msg.Subject,
		Sender:       msg.Sender,
		Recipients:   msg.Recipients,
		CC:           msg.CC,
		BCC:          msg.BCC,
		TextBody:     msg.TextBody,
		HTMLBody:     msg.HTMLBody,
		DateSent:     msg.DateSent,
		DateReceived: time.Now(),
		RawHeaders:   msg.RawHeaders,
		DispatcherID: msg.DispatcherID,
		RFQ:          msg.RFQ,
		RFQType:      msg.RFQType,
	}
}

func toDBAttachments(saved []savedAttachment) []model.Attachment {
	out := make([]model.Attachment, 0, len(saved))
	for _, s := range saved {
		out = append(out, model.Attachment{
			OriginalName:    s.canonical.Filename,
			StoredName:      s.stored.StoredName,
			FilePath:        s.stored.FilePath,
			FileSize:        s.stored.FileSize,
			ContentType:     s.canonical.ContentType,
			DispositionType: s.canonical.DispositionType,
			ContentID:       s.canonical.ContentID,
			Extra:           s.extra,
		})
	}
	return out
}

func uidString(uid imapUID) string {
	return strconv.FormatUint(uint64(uid), 10)
}
