package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aihub/multimodal-rag/internal/logger"
	"go.uber.org/zap"
)

var (
	ErrIndexMisaligned = errors.New("vector index and metadata log are misaligned")
	ErrEmptyAppend     = errors.New("nothing to append")
)

// Entry 一条向量及其元数据，成对写入
type Entry struct {
	Vector []float32
	Record Record
}

// ScoredRecord 检索结果
type ScoredRecord struct {
	Record   Record
	Score    float32
	Position int
}

// ModalityStore 单一模态的向量索引+元数据日志。
// 写入串行化，读写互斥；元数据先落盘，索引文件原子替换作为提交点。
type ModalityStore struct {
	modality  Modality
	indexPath string
	log       *MetadataLog
	dim       int

	mu      sync.RWMutex
	loaded  bool
	index   *VectorIndex
	records []Record
}

func NewModalityStore(modality Modality, indexPath, metadataPath string, dim int) *ModalityStore {
	return &ModalityStore{
		modality:  modality,
		indexPath: indexPath,
		log:       NewMetadataLog(metadataPath),
		dim:       dim,
	}
}

func (s *ModalityStore) Modality() Modality {
	return s.modality
}

// Exists 索引文件是否已落盘
func (s *ModalityStore) Exists() bool {
	_, err := os.Stat(s.indexPath)
	return err == nil
}

// Len 已提交的条目数
func (s *ModalityStore) Len() (int, error) {
	var n int
	err := s.withLoaded(func() {
		n = len(s.records)
	})
	return n, err
}

// Records 按插入顺序返回全部元数据副本
func (s *ModalityStore) Records() ([]Record, error) {
	var out []Record
	err := s.withLoaded(func() {
		out = make([]Record, len(s.records))
		copy(out, s.records)
	})
	return out, err
}

// withLoaded 在读锁内执行fn，并保证此时内存状态已加载。
// Invalidate/Reset 可能在加载与加锁之间清空状态，所以要在读锁内复查
func (s *ModalityStore) withLoaded(fn func()) error {
	for {
		s.mu.RLock()
		if s.loaded {
			fn()
			s.mu.RUnlock()
			return nil
		}
		s.mu.RUnlock()

		s.mu.Lock()
		err := s.loadLocked()
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

// loadLocked 加载并校验对齐。日志比索引多出的尾部记录来自未提交的追加，直接截掉；
// 索引比日志多则无法恢复。
func (s *ModalityStore) loadLocked() error {
	if s.loaded {
		return nil
	}

	index, err := EnsureIndex(s.indexPath, s.dim)
	if err != nil {
		return fmt.Errorf("load %s index: %w", s.modality, err)
	}
	records, err := s.log.LoadAll()
	if err != nil {
		return fmt.Errorf("load %s metadata: %w", s.modality, err)
	}

	switch {
	case len(records) > index.Len():
		logger.Warn("metadata log has uncommitted tail, truncating",
			zap.String("modality", string(s.modality)),
			zap.Int("records", len(records)),
			zap.Int("vectors", index.Len()))
		if err := s.log.TruncateRecords(index.Len()); err != nil {
			return fmt.Errorf("repair %s metadata: %w", s.modality, err)
		}
		records = records[:index.Len()]
	case len(records) < index.Len():
		return fmt.Errorf("%w: %s has %d vectors but %d records",
			ErrIndexMisaligned, s.modality, index.Len(), len(records))
	}

	s.index = index
	s.records = records
	s.loaded = true
	return nil
}

// Append 整批写入，要么全部可见要么全部不可见
func (s *ModalityStore) Append(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return ErrEmptyAppend
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	if len(s.records) != s.index.Len() {
		return fmt.Errorf("%w: %s has %d vectors but %d records",
			ErrIndexMisaligned, s.modality, s.index.Len(), len(s.records))
	}

	vectors := make([][]float32, len(entries))
	records := make([]Record, len(entries))
	for i, e := range entries {
		if len(e.Vector) != s.index.Dim() {
			return fmt.Errorf("%w: %s entry %d has %d values, index expects %d",
				ErrDimensionMismatch, s.modality, i, len(e.Vector), s.index.Dim())
		}
		if e.Record.Modality != s.modality {
			return fmt.Errorf("record %s has modality %q, store holds %q", e.Record.ID, e.Record.Modality, s.modality)
		}
		vectors[i] = e.Vector
		records[i] = e.Record
	}

	prevSize, err := s.log.Size()
	if err != nil {
		return err
	}
	prevLen := s.index.Len()

	if err := s.log.Append(records); err != nil {
		s.rollbackLog(prevSize)
		return fmt.Errorf("append %s metadata: %w", s.modality, err)
	}
	if err := s.index.Append(vectors); err != nil {
		s.rollbackLog(prevSize)
		return err
	}
	if err := s.index.Persist(s.indexPath); err != nil {
		s.index.Truncate(prevLen)
		s.rollbackLog(prevSize)
		return fmt.Errorf("persist %s index: %w", s.modality, err)
	}

	s.records = append(s.records, records...)
	return nil
}

func (s *ModalityStore) rollbackLog(size int64) {
	if err := s.log.Truncate(size); err != nil {
		logger.Error("failed to roll back metadata log",
			zap.String("modality", string(s.modality)),
			zap.String("path", s.log.Path()),
			zap.Error(err))
	}
}

// Search 内积检索，索引未建立时返回空
func (s *ModalityStore) Search(ctx context.Context, query []float32, k int) ([]ScoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Exists() {
		return nil, nil
	}

	var (
		out       []ScoredRecord
		searchErr error
	)
	err := s.withLoaded(func() {
		hits, err := s.index.Search(query, k)
		if err != nil {
			searchErr = err
			return
		}
		out = make([]ScoredRecord, 0, len(hits))
		for _, h := range hits {
			if h.Position < 0 || h.Position >= len(s.records) {
				continue
			}
			out = append(out, ScoredRecord{
				Record:   s.records[h.Position],
				Score:    h.Score,
				Position: h.Position,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	if searchErr != nil {
		return nil, searchErr
	}
	return out, nil
}

// Reset 删除索引与日志文件并清空内存状态
func (s *ModalityStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := os.Remove(s.indexPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	os.Remove(s.indexPath + ".tmp")
	if err := s.log.Remove(); err != nil {
		errs = append(errs, err)
	}

	s.loaded = false
	s.index = nil
	s.records = nil
	return errors.Join(errs...)
}

// Invalidate 丢弃内存状态，下次访问时重新从磁盘加载。多实例共享索引目录时由其他实例的入库事件触发
func (s *ModalityStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.index = nil
	s.records = nil
}
