// Package storage is the receipt object store adapter. Artifacts are byte
// blobs addressed by owner-scoped, collision-resistant keys; access from
// outside the service happens only through short-lived signed URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrRejectedInput is returned when an upload fails the type allow-list.
// Both the MIME type and the file extension must be an accepted image format.
var ErrRejectedInput = errors.New("only .png, .jpg and .jpeg receipt images are accepted")

// KeyPrefix is the root prefix under which all receipt artifacts live.
const KeyPrefix = "receipts/"

// URLProfile fixes the expiry and response headers of a signed URL.
type URLProfile struct {
	Expiry      time.Duration
	Disposition string
	ContentType string
}

var (
	// ProfileInternalFetch is for machine consumption by the OCR stage.
	ProfileInternalFetch = URLProfile{
		Expiry: 600 * time.Second,
	}

	// ProfileInlineDisplay is for end-user display: shorter lived, and the
	// response headers force the browser to render instead of download.
	ProfileInlineDisplay = URLProfile{
		Expiry:      300 * time.Second,
		Disposition: "inline",
		ContentType: "image/jpeg",
	}
)

// ObjectStore provides an interface for receipt artifact operations.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Put durably stores the artifact and returns its key. The write is
	// atomic: no reader ever observes a partial object. Returns
	// ErrRejectedInput when filename or contentType is not an accepted
	// image format.
	Put(ctx context.Context, ownerID string, data []byte, filename, contentType string) (string, error)

	// Delete removes the artifact. Deleting a nonexistent key is not an
	// error; cleanup paths may race and retry.
	Delete(ctx context.Context, key string) error

	// SignedURL mints a time-bounded read capability for one artifact.
	SignedURL(ctx context.Context, key string, profile URLProfile) (string, error)
}

// ArtifactInfo describes one stored artifact, for the orphan sweep.
type ArtifactInfo struct {
	Key     string
	Created time.Time
}

// Lister enumerates stored artifacts under a key prefix.
type Lister interface {
	List(ctx context.Context, prefix string) ([]ArtifactInfo, error)
}

var allowedTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// CheckReceiptType validates that both the extension and the MIME type are on
// the allow-list and agree with each other.
func CheckReceiptType(filename, contentType string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	want, ok := allowedTypes[ext]
	if !ok {
		return ErrRejectedInput
	}

	// Strip any ";charset=..." suffix before comparing.
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if mime != want {
		return ErrRejectedInput
	}
	return nil
}

// ObjectKey builds a collision-resistant key for a new artifact:
// receipts/<owner>/receipt-<unixnano>-<random><ext>. The timestamp plus
// random suffix lets concurrent uploads for one owner proceed without locks.
func ObjectKey(ownerID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%s/receipt-%d-%s%s", KeyPrefix, ownerID, time.Now().UnixNano(), suffix, ext)
}
