package expense

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ArtifactDeleter is the slice of the object store the committer needs.
// Deletes must be idempotent: removing an absent key is not an error.
type ArtifactDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Service is the record committer. It owns the coupling between expense rows
// and their receipt artifacts:
//
//   - update with a replacement artifact deletes the OLD artifact only after
//     the new row state is durably saved;
//   - delete removes the row before its artifact, so a failed artifact delete
//     strands at worst an orphaned object (recoverable by the sweep), never a
//     live row pointing at a missing object.
type Service struct {
	repo      Repository
	artifacts ArtifactDeleter
	log       zerolog.Logger
}

// NewService creates a new committer service.
func NewService(repo Repository, artifacts ArtifactDeleter, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		artifacts: artifacts,
		log:       log,
	}
}

// Create validates fields and persists a new expense.
func (s *Service) Create(ctx context.Context, f Fields) (*Expense, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e := &Expense{
		ID:          uuid.NewString(),
		Owner:       f.Owner,
		Vendor:      f.Vendor,
		Amount:      f.Amount,
		Date:        f.Date,
		Category:    f.Category,
		ArtifactKey: f.ArtifactKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("create expense: %w", err)
	}
	return e, nil
}

// Get retrieves one expense scoped by owner.
func (s *Service) Get(ctx context.Context, id, ownerID string) (*Expense, error) {
	return s.repo.Get(ctx, id, ownerID)
}

// List retrieves the owner's expenses, newest first, optionally bounded by
// a date range.
func (s *Service) List(ctx context.Context, ownerID string, from, to civil.Date) ([]*Expense, error) {
	return s.repo.ListByOwner(ctx, ownerID, from, to)
}

// Update applies a partial update. When p.ArtifactKey is set, the caller has
// already stored the replacement object; on any failure that replacement is
// deleted so it cannot be orphaned, and on success the previous object is
// deleted only after the row is saved.
func (s *Service) Update(ctx context.Context, id, ownerID string, p Patch) (*Expense, error) {
	e, err := s.repo.Get(ctx, id, ownerID)
	if err != nil {
		s.discardReplacement(ctx, p)
		return nil, err
	}
	oldKey := e.ArtifactKey

	if p.Vendor != nil {
		e.Vendor = *p.Vendor
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.ArtifactKey != nil {
		e.ArtifactKey = *p.ArtifactKey
	}
	e.UpdatedAt = time.Now().UTC()

	f := Fields{
		Owner:       e.Owner,
		Vendor:      e.Vendor,
		Amount:      e.Amount,
		Date:        e.Date,
		Category:    e.Category,
		ArtifactKey: e.ArtifactKey,
	}
	if err := f.Validate(); err != nil {
		s.discardReplacement(ctx, p)
		return nil, err
	}

	if err := s.repo.Update(ctx, e); err != nil {
		s.discardReplacement(ctx, p)
		return nil, fmt.Errorf("update expense %s: %w", id, err)
	}

	// Row state is durable; now the old object is safe to drop.
	if p.ArtifactKey != nil && oldKey != "" && oldKey != *p.ArtifactKey {
		if err := s.artifacts.Delete(context.WithoutCancel(ctx), oldKey); err != nil {
			s.log.Error().Err(err).Str("artifact_key", oldKey).Msg("Failed to delete replaced receipt artifact")
		}
	}
	return e, nil
}

// Delete removes the expense row, then its artifact.
func (s *Service) Delete(ctx context.Context, id, ownerID string) error {
	e, err := s.repo.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id, ownerID); err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}

	if err := s.artifacts.Delete(context.WithoutCancel(ctx), e.ArtifactKey); err != nil {
		// The orphan sweep reclaims this later.
		s.log.Error().Err(err).Str("artifact_key", e.ArtifactKey).Msg("Failed to delete receipt artifact for removed expense")
	}
	return nil
}

// discardReplacement deletes the not-yet-adopted replacement artifact after a
// failed update.
func (s *Service) discardReplacement(ctx context.Context, p Patch) {
	if p.ArtifactKey == nil || *p.ArtifactKey == "" {
		return
	}
	if err := s.artifacts.Delete(context.WithoutCancel(ctx), *p.ArtifactKey); err != nil {
		s.log.Error().Err(err).Str("artifact_key", *p.ArtifactKey).Msg("Failed to delete replacement receipt artifact")
	}
}
