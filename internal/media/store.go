package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	fb "firebase.google.com/go/v4"
	"github.com/google/uuid"

	apperrors "hudhud.im.sync/internal/errors"
)

// Bucket 对象写入
type Bucket interface {
	NewWriter(ctx context.Context, object, contentType string) io.WriteCloser
}

type gcsBucket struct {
	handle *gcs.BucketHandle
}

func (b gcsBucket) NewWriter(ctx context.Context, object, contentType string) io.WriteCloser {
	w := b.handle.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

// Store 媒体对象存储
type Store struct {
	bucket  Bucket
	name    string
	newName func() string
	logger  *slog.Logger
}

// NewStore 基于任意 Bucket 创建存储
func NewStore(bucket Bucket, name string) *Store {
	return &Store{
		bucket:  bucket,
		name:    name,
		newName: uuid.NewString,
		logger:  slog.Default(),
	}
}

// NewFirebaseStore 使用 Firebase Storage 的默认或指定存储桶
func NewFirebaseStore(ctx context.Context, app *fb.App, bucketName string) (*Store, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase storage: %w", err)
	}
	var handle *gcs.BucketHandle
	if bucketName == "" {
		handle, err = client.DefaultBucket()
	} else {
		handle, err = client.Bucket(bucketName)
	}
	if err != nil {
		return nil, fmt.Errorf("firebase storage bucket: %w", err)
	}
	return NewStore(gcsBucket{handle: handle}, bucketName), nil
}

// Upload 上传媒体，返回对象引用
// 对象名为 media/{owner}/{uuid}{ext}，任何失败都归为 MediaUploadFailed
func (s *Store) Upload(ctx context.Context, owner, name, contentType string, r io.Reader) (string, error) {
	if owner == "" || r == nil {
		return "", apperrors.ErrInvalidParams
	}
	object := path.Join("media", owner, s.newName()+strings.ToLower(path.Ext(name)))

	w := s.bucket.NewWriter(ctx, object, contentType)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		s.logger.Error("Media write failed", "object", object, "error", err)
		return "", apperrors.ErrMediaUploadFailed.Wrap(err)
	}
	if err := w.Close(); err != nil {
		s.logger.Error("Media finalize failed", "object", object, "error", err)
		return "", apperrors.ErrMediaUploadFailed.Wrap(err)
	}

	s.logger.Debug("Media uploaded", "object", object, "owner", owner)
	return object, nil
}
