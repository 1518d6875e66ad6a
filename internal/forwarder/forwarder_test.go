package forwarder

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/portcall/mailgate/internal/model"
)

func TestForwardSubjectPrependsOnce(t *testing.T) {
	if got := forwardSubject("Hello"); got != "Fwd: Hello" {
		t.Errorf("expected %q, got %q", "Fwd: Hello", got)
	}
}

func TestForwardSubjectLeavesExistingPrefixAlone(t *testing.T) {
	if got := forwardSubject("Fwd: Hello"); got != "Fwd: Hello" {
		t.Errorf("expected unchanged subject, got %q", got)
	}
	if got := forwardSubject("FW: Hello"); got != "FW: Hello" {
		t.Errorf("expected unchanged subject, got %q", got)
	}
}

func TestInsertHTMLForwardContentInsertsAfterBodyTag(t *testing.T) {
	f := &Forwarder{}
	html := `<html><body class="x"><p>hi</p></body></html>`
	out := f.insertHTMLForwardContent(html, "Subject: hi\n", "")
	if !strings.Contains(out, "<pre") {
		t.Errorf("expected forward header block to be inserted, got %q", out)
	}
	if !strings.HasPrefix(out, `<html><body class="x">`) {
		t.Errorf("expected insertion to come after the opening body tag, got %q", out)
	}
}

func TestInsertHTMLForwardContentWithoutBodyTagReturnsUnchanged(t *testing.T) {
	f := &Forwarder{}
	html := `<div>no body tag here</div>`
	out := f.insertHTMLForwardContent(html, "Subject: hi\n", "")
	if out != html {
		t.Errorf("expected html returned unchanged when no body tag present, got %q", out)
	}
}

func TestBuildForwardBodyPlainTextIncludesOriginalAndAdditional(t *testing.T) {
	f := &Forwarder{}
	sentAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := &model.Message{Sender: "a@x.test", Subject: "hi", TextBody: "original text", DateSent: &sentAt}
	body, isHTML := f.buildForwardBody(msg, "please see attached")
	if isHTML {
		t.Fatal("expected plain-text body for message with no HTMLBody")
	}
	if !strings.Contains(body, "please see attached") || !strings.Contains(body, "original text") {
		t.Errorf("expected body to contain both additional message and original text, got %q", body)
	}
}

func TestForwardRejectsEmptyRecipientList(t *testing.T) {
	f := New(Config{}, nil, nil, nil)
	_, err := f.Forward(context.Background(), Request{MessageID: 1})
	if err == nil {
		t.Fatal("expected error for empty to_addresses")
	}
}
