package postprocess

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/portcall/mailgate/internal/model"
)

// ShipservExtractor pulls the quoted subject line out of a shipserv RFQ
// attachment. It scans the attachment as text; PDF layout parsing is a
// separate concern for a dedicated extractor binary.
type ShipservExtractor struct{}

// ShipservData is the structured extra this extractor attaches.
type ShipservData struct {
	Subject string `json:"subject,omitempty"`
}

func (ShipservExtractor) RFQType() string { return "shipserv" }

// Extract scans the attachment's bytes as text for a line beginning with
// "Subject:" and returns it.
func (ShipservExtractor) Extract(ctx context.Context, att model.CanonicalAttachment) (any, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	scanner := bufio.NewScanner(bytes.NewReader(att.Content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "Subject:") {
			return ShipservData{Subject: strings.TrimSpace(strings.TrimPrefix(line, "Subject:"))}, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("postprocess: scan shipserv attachment: %w", err)
	}
	return ShipservData{}, nil
}
