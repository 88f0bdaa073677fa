package brain

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSMirror keeps a copy of the Brain document in a Cloud Storage object.
type GCSMirror struct {
	client *storage.Client
	bucket string
	object string
}

func NewGCSMirror(client *storage.Client, bucket string, object string) *GCSMirror {
	return &GCSMirror{client: client, bucket: bucket, object: object}
}

func (m *GCSMirror) Upload(ctx context.Context, data []byte) error {
	w := m.client.Bucket(m.bucket).Object(m.object).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{"source": "menu-resolver-brain"}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload brain to gs://%s/%s: %w", m.bucket, m.object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload brain to gs://%s/%s: %w", m.bucket, m.object, err)
	}
	return nil
}

func (m *GCSMirror) Download(ctx context.Context) ([]byte, error) {
	r, err := m.client.Bucket(m.bucket).Object(m.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("download brain from gs://%s/%s: %w", m.bucket, m.object, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}
