// Package pipeline orchestrates one receipt ingestion run:
// upload -> OCR -> extraction -> commit. Its single hard invariant is that
// the stored artifact is deleted on every path that does not end in a
// committed expense, so the object store never accumulates orphans and no
// expense ever points at a missing object.
package pipeline

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-tracker/internal/expense"
	"github.com/dvloznov/expense-tracker/internal/extract"
	"github.com/dvloznov/expense-tracker/internal/ocr"
	"github.com/dvloznov/expense-tracker/internal/storage"
)

// State names one position in the ingestion state machine.
type State string

const (
	StateReceived   State = "received"
	StateUploaded   State = "uploaded"
	StateRecognized State = "recognized"
	StateExtracted  State = "extracted"
	StateCommitted  State = "committed"
	StateAborted    State = "aborted"
)

// Committer is the slice of the expense service the pipeline needs.
type Committer interface {
	Create(ctx context.Context, f expense.Fields) (*expense.Expense, error)
}

// Pipeline sequences the ingestion stages over injected collaborators.
type Pipeline struct {
	store     storage.ObjectStore
	detector  ocr.TextDetector
	extractor extract.Extractor
	committer Committer
	log       zerolog.Logger
}

// New creates a pipeline. All collaborators are explicit so tests can
// substitute fakes.
func New(store storage.ObjectStore, detector ocr.TextDetector, extractor extract.Extractor, committer Committer, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		detector:  detector,
		extractor: extractor,
		committer: committer,
		log:       log,
	}
}

// Overrides are the optional manual fields submitted with an upload. A set
// pointer wins over whatever extraction produced.
type Overrides struct {
	Vendor   *string
	Amount   *float64
	Date     *civil.Date
	Category *expense.Category
}

// Input describes one upload to ingest.
type Input struct {
	OwnerID     string
	Filename    string
	ContentType string
	Data        []byte
	Overrides   Overrides
}

// Ingest runs the state machine for one upload. Exactly one attempt
// end-to-end; fatal errors are returned to the caller after cleanup, never
// retried here.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (*expense.Expense, error) {
	state := StateReceived
	log := p.log.With().Str("owner", in.OwnerID).Logger()

	// 1. Store the artifact. A rejected upload creates nothing, so there is
	// nothing to clean up on this branch.
	key, err := p.store.Put(ctx, in.OwnerID, in.Data, in.Filename, in.ContentType)
	if err != nil {
		return nil, fmt.Errorf("ingest: storing receipt: %w", err)
	}
	state = StateUploaded
	log = log.With().Str("artifact_key", key).Logger()

	// 2. Mint the short-lived URL the recognition service will fetch.
	signedURL, err := p.store.SignedURL(ctx, key, storage.ProfileInternalFetch)
	if err != nil {
		p.abort(ctx, log, key, state)
		return nil, fmt.Errorf("ingest: signing artifact url: %w", err)
	}

	// 3. OCR. Empty text is terminal for this run.
	rawText, err := p.detector.DetectText(ctx, signedURL)
	if err != nil {
		p.abort(ctx, log, key, state)
		return nil, fmt.Errorf("ingest: recognizing text: %w", err)
	}
	state = StateRecognized

	// 4. Extraction cannot fail; degradation is absorbed inside the
	// extractor.
	result := p.extractor.Extract(ctx, rawText)
	state = StateExtracted
	log.Debug().Str("tier", string(result.Tier)).Msg("Receipt fields extracted")

	fields := expense.Fields{
		Owner:       in.OwnerID,
		Vendor:      result.Vendor,
		Amount:      result.Amount,
		Date:        result.Date,
		Category:    result.Category,
		ArtifactKey: key,
	}
	if in.Overrides.Vendor != nil {
		fields.Vendor = *in.Overrides.Vendor
	}
	if in.Overrides.Amount != nil {
		fields.Amount = *in.Overrides.Amount
	}
	if in.Overrides.Date != nil {
		fields.Date = *in.Overrides.Date
	}
	if in.Overrides.Category != nil {
		fields.Category = *in.Overrides.Category
	}

	// 5. Commit. Validation failures count as persistence failures here:
	// the artifact must not outlive the run.
	committed, err := p.committer.Create(ctx, fields)
	if err != nil {
		p.abort(ctx, log, key, state)
		return nil, fmt.Errorf("ingest: committing expense: %w", err)
	}
	state = StateCommitted

	log.Info().
		Str("expense_id", committed.ID).
		Str("state", string(state)).
		Msg("Receipt ingested")
	return committed, nil
}

// abort performs the single best-effort cleanup delete for a failed run.
// Cleanup runs even when the request context is already cancelled, and a
// cleanup failure is logged, never surfaced over the original error.
func (p *Pipeline) abort(ctx context.Context, log zerolog.Logger, key string, from State) {
	log.Warn().
		Str("from_state", string(from)).
		Str("state", string(StateAborted)).
		Msg("Ingestion aborted, deleting artifact")

	if err := p.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		log.Error().Err(err).Msg("Failed to delete artifact during abort")
	}
}
