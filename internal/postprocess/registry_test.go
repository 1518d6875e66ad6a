package postprocess

import (
	"context"
	"strings"
	"testing"

	"github.com/portcall/mailgate/internal/model"
)

func TestProcessRunsMatchingExtractor(t *testing.T) {
	reg := NewRegistry(ShipservExtractor{})
	atts := []model.CanonicalAttachment{
		{Filename: "rfq.txt", Content: []byte("Header\nSubject: Pump spares\nFooter\n")},
	}
	results := reg.Process(context.Background(), "shipserv", atts)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
	if !strings.Contains(results[0].Extra, "Pump spares") {
		t.Errorf("expected extra to contain subject text, got %q", results[0].Extra)
	}
}

func TestProcessNoExtractorForType(t *testing.T) {
	reg := NewRegistry(ShipservExtractor{})
	atts := []model.CanonicalAttachment{{Filename: "a.txt", Content: []byte("x")}}
	results := reg.Process(context.Background(), "unknown-type", atts)
	if len(results) != 1 || results[0].Extra != "" || results[0].Err != nil {
		t.Errorf("expected empty no-op result for unregistered rfq type, got %+v", results)
	}
}
