package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-tracker/internal/storage"
)

type fakeArtifactStore struct {
	artifacts []storage.ArtifactInfo
	listErr   error
	deleteErr map[string]error
	deleted   []string
}

func (f *fakeArtifactStore) List(ctx context.Context, prefix string) ([]storage.ArtifactInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.artifacts, nil
}

func (f *fakeArtifactStore) Delete(ctx context.Context, key string) error {
	if err := f.deleteErr[key]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeRefs struct {
	inUse map[string]bool
	err   error
}

func (f *fakeRefs) ArtifactKeyInUse(ctx context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.inUse[key], nil
}

func TestSweep(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour)
	young := time.Now().Add(-time.Minute)

	store := &fakeArtifactStore{
		artifacts: []storage.ArtifactInfo{
			{Key: "receipts/a/orphan.jpg", Created: old},
			{Key: "receipts/a/referenced.jpg", Created: old},
			{Key: "receipts/a/in-flight.jpg", Created: young},
		},
	}
	refs := &fakeRefs{inUse: map[string]bool{
		"receipts/a/referenced.jpg": true,
	}}

	s := NewSweeper(store, refs, time.Hour, zerolog.Nop())

	reclaimed, err := s.Sweep(context.Background(), "")
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if reclaimed != 1 {
		t.Errorf("reclaimed = %d, want 1", reclaimed)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "receipts/a/orphan.jpg" {
		t.Errorf("deleted = %v, want only the orphan", store.deleted)
	}
}

func TestSweep_DeleteFailureContinues(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour)

	store := &fakeArtifactStore{
		artifacts: []storage.ArtifactInfo{
			{Key: "receipts/a/first.jpg", Created: old},
			{Key: "receipts/a/second.jpg", Created: old},
		},
		deleteErr: map[string]error{
			"receipts/a/first.jpg": errors.New("transient"),
		},
	}
	refs := &fakeRefs{inUse: map[string]bool{}}

	s := NewSweeper(store, refs, time.Hour, zerolog.Nop())

	reclaimed, err := s.Sweep(context.Background(), "")
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if reclaimed != 1 {
		t.Errorf("reclaimed = %d, want 1", reclaimed)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "receipts/a/second.jpg" {
		t.Errorf("deleted = %v, want only the second key", store.deleted)
	}
}

func TestSweep_ReferenceCheckFailureStops(t *testing.T) {
	store := &fakeArtifactStore{
		artifacts: []storage.ArtifactInfo{
			{Key: "receipts/a/one.jpg", Created: time.Now().Add(-2 * time.Hour)},
		},
	}
	refs := &fakeRefs{err: errors.New("repository unavailable")}

	s := NewSweeper(store, refs, time.Hour, zerolog.Nop())

	if _, err := s.Sweep(context.Background(), ""); err == nil {
		t.Fatal("Sweep() = nil error, want failure when references cannot be checked")
	}
	if len(store.deleted) != 0 {
		t.Errorf("deleted = %v, want none", store.deleted)
	}
}

func TestSweeperHandle(t *testing.T) {
	store := &fakeArtifactStore{
		artifacts: []storage.ArtifactInfo{
			{Key: "receipts/a/orphan.jpg", Created: time.Now().Add(-2 * time.Hour)},
		},
	}
	refs := &fakeRefs{inUse: map[string]bool{}}
	s := NewSweeper(store, refs, time.Hour, zerolog.Nop())

	job := &SweepJob{JobID: "job-1", Prefix: storage.KeyPrefix}
	if err := s.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if job.Reclaimed != 1 {
		t.Errorf("job.Reclaimed = %d, want 1", job.Reclaimed)
	}
}
