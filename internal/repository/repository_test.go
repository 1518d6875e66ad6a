package repository

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/portcall/mailgate/internal/model"
)

// openTestRepo bootstraps a throwaway database with schemaDDL applied,
// mirroring the DDL an operator would run before first start, then opens
// it through the Repository like production code would.
func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailgate.sqlite")

	bootstrap, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("bootstrap open: %v", err)
	}
	if _, err := bootstrap.Exec(schemaDDL); err != nil {
		t.Fatalf("bootstrap schema: %v", err)
	}
	bootstrap.Close()

	repo, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestOpenRejectsUnbootstrappedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.sqlite")
	if _, err := Open(path); err == nil {
		t.Fatal("expected Open to fail against an empty database")
	}
}

func TestSaveMessageWithAttachmentsInsertsNew(t *testing.T) {
	repo := openTestRepo(t)

	msg := &model.Message{
		MessageID:    "<abc@example.com>",
		Subject:      "RFQ for valves",
		Sender:       "buyer@example.com",
		Recipients:   []string{"ops@example.com"},
		DateReceived: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
	}
	att := []model.Attachment{{OriginalName: "spec.pdf", StoredName: "stored.pdf", FilePath: "/tmp/stored.pdf", FileSize: 10}}

	id, inserted, err := repo.SaveMessageWithAttachments(msg, att)
	if err != nil {
		t.Fatalf("SaveMessageWithAttachments: %v", err)
	}
	if !inserted {
		t.Fatal("expected inserted = true for a new message")
	}

	got, err := repo.GetMessageByID(id)
	if err != nil || got == nil {
		t.Fatalf("GetMessageByID: got=%v err=%v", got, err)
	}
	if got.Subject != msg.Subject || got.Sender != msg.Sender {
		t.Errorf("round-tripped message mismatch: %+v", got)
	}

	attachments, err := repo.GetAttachments(id)
	if err != nil {
		t.Fatalf("GetAttachments: %v", err)
	}
	if len(attachments) != 1 || attachments[0].OriginalName != "spec.pdf" {
		t.Errorf("attachments = %+v", attachments)
	}
}

func TestSaveMessageWithAttachmentsIsIdempotentAndBackfills(t *testing.T) {
	repo := openTestRepo(t)

	msg := &model.Message{MessageID: "<dup@example.com>", DateReceived: time.Now()}

	firstID, inserted, err := repo.SaveMessageWithAttachments(msg, nil)
	if err != nil || !inserted {
		t.Fatalf("first save: id=%d inserted=%v err=%v", firstID, inserted, err)
	}

	att := []model.Attachment{{OriginalName: "late.pdf", StoredName: "late-stored.pdf", FilePath: "/tmp/late-stored.pdf", FileSize: 3}}
	secondID, insertedAgain, err := repo.SaveMessageWithAttachments(msg, att)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if insertedAgain {
		t.Error("expected insertedAgain = false on duplicate message_id")
	}
	if secondID != firstID {
		t.Errorf("secondID = %d, want %d", secondID, firstID)
	}

	attachments, err := repo.GetAttachments(firstID)
	if err != nil {
		t.Fatalf("GetAttachments: %v", err)
	}
	if len(attachments) != 1 {
		t.Errorf("expected backfilled attachment, got %d", len(attachments))
	}
}

func TestExistsMessage(t *testing.T) {
	repo := openTestRepo(t)
	msg := &model.Message{MessageID: "<exists@example.com>", DateReceived: time.Now()}
	if _, _, err := repo.SaveMessageWithAttachments(msg, nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	ok, err := repo.ExistsMessage("<exists@example.com>")
	if err != nil || !ok {
		t.Fatalf("ExistsMessage = %v, %v; want true, nil", ok, err)
	}
	ok, err = repo.ExistsMessage("<missing@example.com>")
	if err != nil || ok {
		t.Fatalf("ExistsMessage = %v, %v; want false, nil", ok, err)
	}
}

func TestUpdateFieldRejectsUnknownField(t *testing.T) {
	repo := openTestRepo(t)
	msg := &model.Message{MessageID: "<field@example.com>", DateReceived: time.Now()}
	id, _, _ := repo.SaveMessageWithAttachments(msg, nil)

	if err := repo.UpdateField(id, model.FieldDispatcherID, "dispatcher-7"); err != nil {
		t.Fatalf("UpdateField dispatcher_id: %v", err)
	}
	got, _ := repo.GetMessageByID(id)
	if got.DispatcherID != "dispatcher-7" {
		t.Errorf("DispatcherID = %q, want dispatcher-7", got.DispatcherID)
	}

	if err := repo.UpdateField(id, model.MutableField("subject"), "hacked"); err == nil {
		t.Fatal("expected UpdateField to reject a non-whitelisted field")
	}
}

func TestLoadActiveRulesOrdersByPriorityDescThenIDAsc(t *testing.T) {
	repo := openTestRepo(t)
	db := repo.db

	mustExec := func(query string, args ...any) {
		t.Helper()
		if _, err := db.Exec(query, args...); err != nil {
			t.Fatalf("exec %q: %v", query, err)
		}
	}

	mustExec(`INSERT INTO rules (id, name, is_active, priority) VALUES (1, 'low', 1, 5)`)
	mustExec(`INSERT INTO rules (id, name, is_active, priority) VALUES (2, 'high-a', 1, 10)`)
	mustExec(`INSERT INTO rules (id, name, is_active, priority) VALUES (3, 'high-b', 1, 10)`)
	mustExec(`INSERT INTO rules (id, name, is_active, priority) VALUES (4, 'inactive', 0, 20)`)

	mustExec(`INSERT INTO rule_condition_groups (id, rule_id, logic, order_idx) VALUES (1, 2, 'AND', 0)`)
	mustExec(`INSERT INTO rule_conditions (group_id, field, operator, match_value, order_idx) VALUES (1, 'sender', 'contains', 'acme.com', 0)`)
	mustExec(`INSERT INTO rule_actions (rule_id, type, config, order_idx) VALUES (2, 'skip', '{}', 0)`)

	rules, err := repo.LoadActiveRules()
	if err != nil {
		t.Fatalf("LoadActiveRules: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("expected 3 active rules, got %d", len(rules))
	}
	if rules[0].ID != 2 || rules[1].ID != 3 || rules[2].ID != 1 {
		t.Errorf("order = [%d %d %d], want [2 3 1]", rules[0].ID, rules[1].ID, rules[2].ID)
	}
	if len(rules[0].ConditionGroups) != 1 || len(rules[0].ConditionGroups[0].Conditions) != 1 {
		t.Errorf("rule 2 composite load incomplete: %+v", rules[0])
	}
	if len(rules[0].Actions) != 1 {
		t.Errorf("rule 2 actions incomplete: %+v", rules[0])
	}
}

func TestLoadActiveRulesAttachesConditionsAcrossManyGroups(t *testing.T) {
	repo := openTestRepo(t)
	db := repo.db

	mustExec := func(query string, args ...any) {
		t.Helper()
		if _, err := db.Exec(query, args...); err != nil {
			t.Fatalf("exec %q: %v", query, err)
		}
	}

	mustExec(`INSERT INTO rules (id, name, is_active, priority, global_group_logic) VALUES (1, 'multi', 1, 0, 'OR')`)
	for g := 1; g <= 4; g++ {
		mustExec(`INSERT INTO rule_condition_groups (id, rule_id, logic, order_idx) VALUES (?, 1, 'AND', ?)`, g, g-1)
		mustExec(`INSERT INTO rule_conditions (group_id, field, operator, match_value, order_idx) VALUES (?, 'subject', 'contains', ?, 0)`, g, "needle")
	}

	rules, err := repo.LoadActiveRules()
	if err != nil {
		t.Fatalf("LoadActiveRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if len(rules[0].ConditionGroups) != 4 {
		t.Fatalf("expected 4 condition groups, got %d", len(rules[0].ConditionGroups))
	}
	for i, g := range rules[0].ConditionGroups {
		if len(g.Conditions) != 1 {
			t.Errorf("group %d has %d conditions, want 1", i, len(g.Conditions))
		}
	}
}

func TestListMessagesFiltersBySenderAndReportsTotal(t *testing.T) {
	repo := openTestRepo(t)

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	for i, sender := range []string{"a@x.test", "a@x.test", "b@x.test"} {
		msg := &model.Message{
			MessageID:    fmt.Sprintf("<list-%d@x.test>", i),
			Sender:       sender,
			DateReceived: base.Add(time.Duration(i) * time.Minute),
		}
		if _, _, err := repo.SaveMessageWithAttachments(msg, nil); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	msgs, total, err := repo.ListMessages(10, 0, "")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if total != 3 || len(msgs) != 3 {
		t.Errorf("unfiltered total=%d len=%d, want 3/3", total, len(msgs))
	}
	// Newest-received first.
	if msgs[0].MessageID != "<list-2@x.test>" {
		t.Errorf("order: first = %q", msgs[0].MessageID)
	}

	msgs, total, err = repo.ListMessages(1, 0, "a@x.test")
	if err != nil {
		t.Fatalf("ListMessages filtered: %v", err)
	}
	if total != 2 {
		t.Errorf("filtered total = %d, want 2", total)
	}
	if len(msgs) != 1 || msgs[0].Sender != "a@x.test" {
		t.Errorf("filtered page = %+v", msgs)
	}
}
