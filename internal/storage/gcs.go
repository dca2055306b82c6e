package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore is the concrete ObjectStore backed by Google Cloud Storage.
// It assumes Application Default Credentials are configured.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a store with a shared storage client for the bucket.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: creating storage client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
	}, nil
}

// Close closes the underlying storage client.
func (s *GCSStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Put validates the upload and writes it to GCS. The object only becomes
// visible when the writer is closed, so creation is atomic from the
// pipeline's point of view.
func (s *GCSStore) Put(ctx context.Context, ownerID string, data []byte, filename, contentType string) (string, error) {
	if err := CheckReceiptType(filename, contentType); err != nil {
		return "", err
	}

	key := ObjectKey(ownerID, filename)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.ContentDisposition = "inline"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("put %s: writing object: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("put %s: finalizing object: %w", key, err)
	}

	return key, nil
}

// Delete removes the object. A missing object is treated as success so that
// racing cleanup paths stay idempotent.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// SignedURL mints a V4 GET URL for the object with the profile's expiry and
// response header overrides.
func (s *GCSStore) SignedURL(ctx context.Context, key string, profile URLProfile) (string, error) {
	qp := url.Values{}
	if profile.Disposition != "" {
		qp.Set("response-content-disposition", profile.Disposition)
	}
	if profile.ContentType != "" {
		qp.Set("response-content-type", profile.ContentType)
	}

	opts := &storage.SignedURLOptions{
		Method:          "GET",
		Expires:         time.Now().Add(profile.Expiry),
		Scheme:          storage.SigningSchemeV4,
		QueryParameters: qp,
	}

	signed, err := s.client.Bucket(s.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("signed url for %s: %w", key, err)
	}
	return signed, nil
}

// List enumerates artifacts under the prefix, for the orphan sweep.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]ArtifactInfo, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var infos []ArtifactInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		infos = append(infos, ArtifactInfo{
			Key:     attrs.Name,
			Created: attrs.Created,
		})
	}
	return infos, nil
}

// Ensure GCSStore implements the storage interfaces.
var _ ObjectStore = (*GCSStore)(nil)
var _ Lister = (*GCSStore)(nil)
