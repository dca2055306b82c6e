package extract

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-tracker/internal/expense"
)

// receiptPayload is the wire shape of a schema-conforming model response.
type receiptPayload struct {
	Vendor          string  `json:"vendor"`
	TotalAmount     float64 `json:"totalAmount"`
	TransactionDate string  `json:"transactionDate"`
	Category        string  `json:"category"`
}

// StructuredExtractor calls the generative model and degrades to the
// heuristic on any failure: transport error, empty response, or output that
// does not validate against the fixed schema. Extract never fails.
type StructuredExtractor struct {
	model ModelClient
	log   zerolog.Logger
	now   func() time.Time
}

// NewStructuredExtractor creates the model-backed extractor.
func NewStructuredExtractor(model ModelClient, log zerolog.Logger) *StructuredExtractor {
	return &StructuredExtractor{
		model: model,
		log:   log,
		now:   time.Now,
	}
}

// Extract returns model-derived fields when the model cooperates and
// heuristic-derived fields otherwise. Defaulting happens once, in Normalize.
func (e *StructuredExtractor) Extract(ctx context.Context, rawText string) Result {
	r, err := e.extractWithModel(ctx, rawText)
	if err == nil {
		return Normalize(r, e.now())
	}

	// Degraded, never fatal: the caller gets best-effort fields.
	e.log.Warn().Err(err).Msg("Structured extraction degraded to heuristic")

	vendor, amount := Heuristic(rawText)
	return Normalize(Result{
		Vendor: vendor,
		Amount: amount,
		Tier:   TierHeuristic,
	}, e.now())
}

func (e *StructuredExtractor) extractWithModel(ctx context.Context, rawText string) (Result, error) {
	rawJSON, err := e.model.GenerateReceiptJSON(ctx, rawText)
	if err != nil {
		return Result{}, err
	}

	clean := cleanModelJSON(rawJSON)

	if err := ValidateAgainstSchema(ReceiptJSONSchema(), []byte(clean)); err != nil {
		return Result{}, err
	}

	var payload receiptPayload
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return Result{}, err
	}

	r := Result{
		Vendor:   strings.TrimSpace(payload.Vendor),
		Amount:   payload.TotalAmount,
		Category: expense.Category(payload.Category),
		Tier:     TierModel,
	}

	// The schema only checks the date's shape. A semantically bad date
	// (month 13 and the like) degrades that one field, not the whole result.
	if date, err := civil.ParseDate(payload.TransactionDate); err == nil && date.IsValid() {
		r.Date = date
	}

	return r, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk if the model
// ignored the strict-JSON instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost JSON object if there is still junk around it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

var _ Extractor = (*StructuredExtractor)(nil)
