package pipeline

import (
	"strings"
	"testing"

	"github.com/portcall/mailgate/internal/attachstore"
	"github.com/portcall/mailgate/internal/model"
)

func TestClassifyRFQMatchesShipservSender(t *testing.T) {
	msg := &model.CanonicalMessage{Sender: "quotes@eu.shipserv.com"}
	classifyRFQ(msg)
	if !msg.RFQ || msg.RFQType != "shipserv" {
		t.Errorf("expected shipserv sender to classify as RFQ, got rfq=%v type=%q", msg.RFQ, msg.RFQType)
	}
}

func TestClassifyRFQLeavesOtherSendersAlone(t *testing.T) {
	msg := &model.CanonicalMessage{Sender: "person@example.com"}
	classifyRFQ(msg)
	if msg.RFQ || msg.RFQType != "" {
		t.Errorf("expected non-shipserv sender to stay unclassified, got rfq=%v type=%q", msg.RFQ, msg.RFQType)
	}
}

func TestApplyFieldModificationsSetsWhitelistedField(t *testing.T) {
	msg := &model.CanonicalMessage{}
	applyFieldModifications(msg, map[string]string{"dispatcher_id": "42"})
	if msg.DispatcherID != "42" {
		t.Errorf("expected dispatcher_id to be set, got %q", msg.DispatcherID)
	}
}

func TestApplyFieldModificationsIgnoresUnknownField(t *testing.T) {
	msg := &model.CanonicalMessage{}
	applyFieldModifications(msg, map[string]string{"subject": "hijacked"})
	if msg.Subject != "" {
		t.Errorf("expected non-mutable field to be left alone, got %q", msg.Subject)
	}
}

func TestToDBMessageCarriesCanonicalFields(t *testing.T) {
	msg := &model.CanonicalMessage{
		MessageID: "<a@x>", Subject: "hi", Sender: "a@x.test",
		Recipients: []string{"b@x.test"}, RFQ: true, RFQType: "shipserv",
	}
	dbMsg := toDBMessage(msg)
	if dbMsg.MessageID != msg.MessageID || dbMsg.Subject != msg.Subject || !dbMsg.RFQ || dbMsg.RFQType != "shipserv" {
		t.Errorf("expected fields to carry through unchanged, got %+v", dbMsg)
	}
	if dbMsg.DateReceived.IsZero() {
		t.Error("expected DateReceived to be stamped at conversion time")
	}
}

func TestToDBAttachmentsCarriesStoredLocation(t *testing.T) {
	saved := []savedAttachment{{
		canonical: model.CanonicalAttachment{Filename: "a.pdf", ContentType: "application/pdf"},
		stored:    attachstore.SaveResult{StoredName: "stored.pdf", FilePath: "/data/stored.pdf", FileSize: 10},
		extra:     `{"subject":"spares"}`,
	}}
	out := toDBAttachments(saved)
	if len(out) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(out))
	}
	if out[0].OriginalName != "a.pdf" || out[0].StoredName != "stored.pdf" || out[0].FilePath != "/data/stored.pdf" || out[0].FileSize != 10 || out[0].Extra == "" {
		t.Errorf("expected stored location and extra to carry through, got %+v", out[0])
	}
}

func TestUIDStringFormatsDecimal(t *testing.T) {
	if got := uidString(42); got != "42" {
		t.Errorf("expected %q, got %q", "42", got)
	}
}

func TestClassifyRFQIsCaseInsensitive(t *testing.T) {
	msg := &model.CanonicalMessage{Sender: "Quotes@EU.SHIPSERV.com"}
	classifyRFQ(msg)
	if !msg.RFQ {
		t.Error("expected case-insensitive sender match")
	}
	if !strings.Contains(msg.Sender, "SHIPSERV") {
		t.Fatal("sanity: sender should be unchanged")
	}
}
