// Package postprocess dispatches a request-for-quote message's
// attachments to the extractor registered for its rfq_type, attaching
// each extractor's structured result to the attachment record.
package postprocess

import (
	"context"
	"encoding/json"

	"github.com/portcall/mailgate/internal/model"
)

// Extractor produces a structured "extra" blob for one attachment of an
// RFQ-classified message. An extractor is selected by rfq_type and must
// never block the ingestion pipeline indefinitely; it receives the
// caller's context, which the pipeline does not give a deadline of its
// own.
type Extractor interface {
	// RFQType is the model.CanonicalMessage.RFQType value this extractor
	// handles.
	RFQType() string
	// Extract returns a JSON-serializable result for one attachment, or
	// an error if extraction failed. A failure is logged by the caller
	// and the attachment is persisted without Extra.
	Extract(ctx context.Context, att model.CanonicalAttachment) (any, error)
}

// Registry dispatches attachments to the Extractor registered for a
// message's rfq_type.
type Registry struct {
	byType map[string]Extractor
}

// NewRegistry builds a Registry from a set of Extractors, keyed by their
// own RFQType().
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byType: make(map[string]Extractor)}
	for _, e := range extractors {
		r.byType[e.RFQType()] = e
	}
	return r
}

// Result is one attachment's post-processing outcome.
type Result struct {
	Extra string // JSON blob, empty if extraction did not run or failed
	Err   error  // non-nil if an extractor ran and failed
}

// Process runs the extractor matching rfqType, if any, against every
// attachment and returns one Result per attachment, index-aligned. If no
// extractor is registered for rfqType every Result is empty with a nil
// error; RFQ classification without a matching extractor is not itself a
// failure.
func (r *Registry) Process(ctx context.Context, rfqType string, attachments []model.CanonicalAttachment) []Result {
	results := make([]Result, len(attachments))
	extractor, ok := r.byType[rfqType]
	if !ok {
		return results
	}
	for i, att := range attachments {
		result, err := extractor.Extract(ctx, att)
		if err != nil {
			results[i] = Result{Err: err}
			continue
		}
		blob, err := json.Marshal(result)
		if err != nil {
			results[i] = Result{Err: err}
			continue
		}
		results[i] = Result{Extra: string(blob)}
	}
	return results
}
