package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	totalKeywordRe = regexp.MustCompile(`(?i)\b(total|amount|charge)\b`)
	moneyRe        = regexp.MustCompile(`\d+\.\d{2}\b`)
)

// Heuristic parses vendor and amount out of raw receipt text. Vendor is the
// first non-empty line, trimmed. Amount is the first XX.XX value on a line
// mentioning a total-like keyword, or 0 when nothing matches. Pure and
// deterministic; no I/O.
func Heuristic(rawText string) (vendor string, amount float64) {
	for _, line := range strings.Split(rawText, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if vendor == "" {
			vendor = trimmed
		}
		if amount == 0 && totalKeywordRe.MatchString(trimmed) {
			if m := moneyRe.FindString(trimmed); m != "" {
				if v, err := strconv.ParseFloat(m, 64); err == nil {
					amount = v
				}
			}
		}
	}
	return vendor, amount
}

// HeuristicExtractor is the standalone strategy used when the intelligent
// extractor is disabled entirely.
type HeuristicExtractor struct{}

// Extract applies the heuristic and normalizes the rest to defaults.
func (HeuristicExtractor) Extract(ctx context.Context, rawText string) Result {
	vendor, amount := Heuristic(rawText)
	return Normalize(Result{
		Vendor: vendor,
		Amount: amount,
		Tier:   TierHeuristic,
	}, time.Now())
}

var _ Extractor = HeuristicExtractor{}
