package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-tracker/internal/storage"
)

// DefaultGracePeriod is how old an artifact must be before the sweep will
// consider it orphaned. Younger artifacts may belong to an ingestion run
// that has not committed yet.
const DefaultGracePeriod = time.Hour

// ArtifactStore is the slice of the object store the sweep needs.
type ArtifactStore interface {
	List(ctx context.Context, prefix string) ([]storage.ArtifactInfo, error)
	Delete(ctx context.Context, key string) error
}

// ReferenceChecker reports whether any expense references an artifact key.
type ReferenceChecker interface {
	ArtifactKeyInUse(ctx context.Context, key string) (bool, error)
}

// Sweeper reclaims stored receipt artifacts that no expense references.
// Cleanup on failure paths is best effort, so a crashed process or a failed
// delete can strand objects; the sweep is what makes those leaks temporary.
type Sweeper struct {
	store ArtifactStore
	refs  ReferenceChecker
	grace time.Duration
	log   zerolog.Logger
}

// NewSweeper creates a sweeper. A non-positive grace period falls back to
// DefaultGracePeriod.
func NewSweeper(store ArtifactStore, refs ReferenceChecker, grace time.Duration, log zerolog.Logger) *Sweeper {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Sweeper{
		store: store,
		refs:  refs,
		grace: grace,
		log:   log,
	}
}

// Handle is the JobHandler for sweep jobs.
func (s *Sweeper) Handle(ctx context.Context, job Job) error {
	sweep, ok := job.(*SweepJob)
	if !ok {
		return fmt.Errorf("unexpected job type %s", job.GetType())
	}

	reclaimed, err := s.Sweep(ctx, sweep.Prefix)
	sweep.Reclaimed = reclaimed
	return err
}

// Sweep walks the artifacts under prefix and deletes every one that is past
// the grace period and referenced by no expense. It returns the number of
// artifacts reclaimed.
func (s *Sweeper) Sweep(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		prefix = storage.KeyPrefix
	}

	artifacts, err := s.store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("sweep: listing artifacts: %w", err)
	}

	cutoff := time.Now().Add(-s.grace)
	reclaimed := 0
	for _, a := range artifacts {
		if a.Created.After(cutoff) {
			continue
		}

		inUse, err := s.refs.ArtifactKeyInUse(ctx, a.Key)
		if err != nil {
			return reclaimed, fmt.Errorf("sweep: checking references for %s: %w", a.Key, err)
		}
		if inUse {
			continue
		}

		if err := s.store.Delete(ctx, a.Key); err != nil {
			s.log.Error().Err(err).Str("artifact_key", a.Key).Msg("Failed to delete orphaned artifact")
			continue
		}
		reclaimed++
		s.log.Info().Str("artifact_key", a.Key).Msg("Reclaimed orphaned artifact")
	}

	return reclaimed, nil
}
