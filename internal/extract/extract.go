// Package extract turns raw OCR text into typed expense fields. There are two
// strategies behind one Extractor interface: the model-backed structured
// extractor (which falls back to the heuristic when the model is unavailable
// or returns malformed output) and the pure heuristic on its own. Receipt
// ingestion never fails because the intelligent extractor is down.
package extract

import (
	"context"
	"math"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-tracker/internal/expense"
)

// Tier records where an extraction came from. Higher tiers are more
// trustworthy: model output > heuristic parse > hardcoded default.
type Tier string

const (
	TierModel     Tier = "model"
	TierHeuristic Tier = "heuristic"
	TierDefault   Tier = "default"
)

// Result is the in-memory outcome of one extraction. It is never persisted on
// its own; the pipeline folds it into an expense record.
type Result struct {
	Vendor   string
	Amount   float64
	Date     civil.Date
	Category expense.Category
	Tier     Tier
}

// Extractor produces a Result from raw receipt text. Implementations must not
// fail: degraded output beats no output.
type Extractor interface {
	Extract(ctx context.Context, rawText string) Result
}

// Normalize is the single defaulting point for extraction output. Every
// committed expense has a concrete vendor, category and date because every
// result passes through here exactly once.
func Normalize(r Result, now time.Time) Result {
	if r.Vendor == "" {
		r.Vendor = expense.DefaultVendor
	}
	if math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) || r.Amount < 0 {
		r.Amount = 0
	}
	if !expense.ValidCategory(r.Category) {
		r.Category = expense.CategoryOther
	}
	if !r.Date.IsValid() {
		r.Date = civil.DateOf(now)
	}
	if r.Tier == "" {
		r.Tier = TierDefault
	}
	return r
}
