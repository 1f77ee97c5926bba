// Package storage uploads generated exports to Cloud Storage and hands out short-lived download
// links for them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultURLTTL = 15 * time.Minute
	// V4 signed URLs are valid for at most seven days.
	maxURLTTL = 7 * 24 * time.Hour
)

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
)

// ExportBucket stores export files in one bucket. It satisfies services.ObjectUploader.
type ExportBucket struct {
	name   string
	bucket *storage.BucketHandle
	signer Signer
	email  string
	now    func() time.Time
}

// Option customises an ExportBucket.
type Option func(*ExportBucket)

// WithSigner signs URLs locally instead of through the IAM signBlob API.
func WithSigner(signer Signer) Option {
	return func(b *ExportBucket) {
		if signer != nil {
			b.signer = signer
		}
	}
}

// WithSignerEmail sets the service account used for IAM signing when no local key exists.
func WithSignerEmail(email string) Option {
	return func(b *ExportBucket) {
		b.email = strings.TrimSpace(email)
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) Option {
	return func(b *ExportBucket) {
		if clock != nil {
			b.now = clock
		}
	}
}

// NewExportBucket wraps bucket name on client. A nil client is allowed when only signing is
// needed.
func NewExportBucket(client *storage.Client, name string, opts ...Option) (*ExportBucket, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errInvalidBucket
	}
	b := &ExportBucket{name: name, now: time.Now}
	if client != nil {
		b.bucket = client.Bucket(name)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Upload writes data as a new object. The object is served as an attachment.
func (b *ExportBucket) Upload(ctx context.Context, object, contentType string, data []byte) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return errInvalidObject
	}
	if b.bucket == nil {
		return errors.New("storage: client not configured")
	}

	w := b.bucket.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.ContentDisposition = attachment(object)
	w.CacheControl = "private, max-age=0"
	// Exports are small enough for a single request.
	w.ChunkSize = 0

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalize %s: %w", object, err)
	}
	return nil
}

// SignedURL returns a V4 GET URL for object valid for ttl.
func (b *ExportBucket) SignedURL(ctx context.Context, object string, ttl time.Duration) (string, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return "", errInvalidObject
	}
	if ttl <= 0 {
		ttl = defaultURLTTL
	}
	if ttl > maxURLTTL {
		ttl = maxURLTTL
	}

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: b.now().Add(ttl),
		QueryParameters: url.Values{
			"response-content-disposition": {attachment(object)},
		},
	}

	if b.signer != nil {
		opts.GoogleAccessID = b.signer.Email()
		opts.SignBytes = func(payload []byte) ([]byte, error) {
			return b.signer.SignBytes(ctx, payload)
		}
		signed, err := storage.SignedURL(b.name, object, opts)
		if err != nil {
			return "", fmt.Errorf("storage: sign %s: %w", object, err)
		}
		return signed, nil
	}

	if b.bucket == nil {
		return "", errors.New("storage: no signer or client configured")
	}
	// Without a key the client detects credentials and falls back to IAM signBlob.
	opts.GoogleAccessID = b.email
	signed, err := b.bucket.SignedURL(object, opts)
	if err != nil {
		return "", fmt.Errorf("storage: sign %s: %w", object, err)
	}
	return signed, nil
}

func attachment(object string) string {
	return fmt.Sprintf("attachment; filename=%q", path.Base(object))
}
