package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DocumentPointer 记录最近一次成功入库的document_id，空字符串表示没有
type DocumentPointer interface {
	Set(ctx context.Context, documentID string) error
	Get(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// FilePointer 单文件存储，写入走临时文件+rename
type FilePointer struct {
	path string
	mu   sync.RWMutex
}

func NewFilePointer(path string) *FilePointer {
	return &FilePointer{path: path}
}

func (p *FilePointer) Set(ctx context.Context, documentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(documentID), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

func (p *FilePointer) Get(ctx context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (p *FilePointer) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RedisPointer 多实例共享时使用
type RedisPointer struct {
	client redis.UniversalClient
	key    string
}

func NewRedisPointer(client redis.UniversalClient, key string) *RedisPointer {
	if key == "" {
		key = "multimodal-rag:latest_doc_id"
	}
	return &RedisPointer{client: client, key: key}
}

func (p *RedisPointer) Set(ctx context.Context, documentID string) error {
	return p.client.Set(ctx, p.key, documentID, 0).Err()
}

func (p *RedisPointer) Get(ctx context.Context) (string, error) {
	val, err := p.client.Get(ctx, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(val), nil
}

func (p *RedisPointer) Clear(ctx context.Context) error {
	return p.client.Del(ctx, p.key).Err()
}
