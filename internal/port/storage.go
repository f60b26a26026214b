package port

import "context"

// ObjectStorage abstracts the object store used to retain provider result
// archives for later inspection.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
}
