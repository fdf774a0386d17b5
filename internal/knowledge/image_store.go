package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ImageURLPrefix 元数据中image_path的前缀
const ImageURLPrefix = "/images/"

var ErrInvalidImageName = errors.New("invalid image name")

// ImageStore 抽取/上传图片的存放位置
type ImageStore interface {
	// Save 保存图片并返回元数据中使用的相对路径
	Save(ctx context.Context, name string, data []byte) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Remove 删除单张图片，不存在时不报错
	Remove(ctx context.Context, name string) error
	Clear(ctx context.Context) error
}

func validImageName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidImageName, name)
	}
	return nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}

// LocalImageStore 本地目录
type LocalImageStore struct {
	dir string
}

func NewLocalImageStore(dir string) (*LocalImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalImageStore{dir: dir}, nil
}

func (s *LocalImageStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := validImageName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", err
	}
	return ImageURLPrefix + name, nil
}

func (s *LocalImageStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validImageName(name); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.dir, name))
}

func (s *LocalImageStore) Remove(ctx context.Context, name string) error {
	if err := validImageName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalImageStore) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MinIOImageStore 对象存储
type MinIOImageStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOImageStore 确保bucket存在
func NewMinIOImageStore(ctx context.Context, client *minio.Client, bucket, prefix string) (*MinIOImageStore, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}
	return &MinIOImageStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *MinIOImageStore) objectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *MinIOImageStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := validImageName(name); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentTypeFor(name)})
	if err != nil {
		return "", fmt.Errorf("failed to upload image %s: %w", name, err)
	}
	return ImageURLPrefix + name, nil
}

func (s *MinIOImageStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validImageName(name); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("image %s: %w", name, os.ErrNotExist)
		}
		return nil, err
	}
	return obj, nil
}

func (s *MinIOImageStore) Remove(ctx context.Context, name string) error {
	if err := validImageName(name); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectName(name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove image %s: %w", name, err)
	}
	return nil
}

func (s *MinIOImageStore) Clear(ctx context.Context) error {
	opts := minio.ListObjectsOptions{Recursive: true}
	if s.prefix != "" {
		opts.Prefix = s.prefix + "/"
	}

	var errs []error
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			errs = append(errs, obj.Err)
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
