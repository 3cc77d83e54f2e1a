package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore keeps each slot as one object in an S3-compatible bucket.
// Used when state snapshots must survive the host, e.g. server-side
// backups of signed-in customers' carts.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the object store and ensures the bucket
// exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Load reads and unmarshals the slot object into v.
func (m *MinioStore) Load(ctx context.Context, slot string, v any) (bool, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.key(slot), minio.GetObjectOptions{})
	if err != nil {
		return false, fmt.Errorf("get slot %s: %w", slot, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("read slot %s: %w", slot, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, nil
	}
	return true, nil
}

// Save marshals v and uploads it.
func (m *MinioStore) Save(ctx context.Context, slot string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal slot %s: %w", slot, err)
	}
	_, err = m.client.PutObject(ctx, m.bucket, m.key(slot), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put slot %s: %w", slot, err)
	}
	return nil
}

// Delete removes the slot object.
func (m *MinioStore) Delete(ctx context.Context, slot string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, m.key(slot), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete slot %s: %w", slot, err)
	}
	return nil
}

func (m *MinioStore) key(slot string) string {
	return "state/" + slot + ".json"
}
