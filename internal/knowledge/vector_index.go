package knowledge

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const vectorIndexVersion = 1

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrCorruptIndex      = errors.New("vector index file is corrupt")
)

// Hit 检索命中：插入位置与内积得分
type Hit struct {
	Position int
	Score    float32
}

// VectorIndex 扁平内积索引，只追加不删除；调用方负责事先归一化
type VectorIndex struct {
	dim  int
	data []float32
}

// vectorIndexFile 磁盘格式
type vectorIndexFile struct {
	Version int
	Dim     int
	Count   int
	Data    []float32
}

func NewVectorIndex(dim int) *VectorIndex {
	return &VectorIndex{dim: dim}
}

// EnsureIndex 文件存在则加载，否则创建指定维度的空索引
func EnsureIndex(path string, dim int) (*VectorIndex, error) {
	idx, err := LoadVectorIndex(path)
	if err == nil {
		return idx, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return NewVectorIndex(dim), nil
	}
	return nil, err
}

func LoadVectorIndex(path string) (*VectorIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var stored vectorIndexFile
	if err := gob.NewDecoder(file).Decode(&stored); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, path, err)
	}
	if stored.Dim <= 0 || len(stored.Data) != stored.Dim*stored.Count {
		return nil, fmt.Errorf("%w: %s: dim=%d count=%d values=%d",
			ErrCorruptIndex, path, stored.Dim, stored.Count, len(stored.Data))
	}

	return &VectorIndex{dim: stored.Dim, data: stored.Data}, nil
}

func (ix *VectorIndex) Dim() int {
	return ix.dim
}

func (ix *VectorIndex) Len() int {
	if ix.dim == 0 {
		return 0
	}
	return len(ix.data) / ix.dim
}

// Append 整批追加；任何一行宽度不符则整批拒绝
func (ix *VectorIndex) Append(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != ix.dim {
			return fmt.Errorf("%w: row %d has %d values, index expects %d", ErrDimensionMismatch, i, len(v), ix.dim)
		}
	}
	for _, v := range vectors {
		ix.data = append(ix.data, v...)
	}
	return nil
}

// Truncate 丢弃第n行之后的向量，用于追加失败时回滚内存状态
func (ix *VectorIndex) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < ix.Len() {
		ix.data = ix.data[:n*ix.dim]
	}
}

// Search 返回内积最大的前k个，按得分降序
func (ix *VectorIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d values, index expects %d", ErrDimensionMismatch, len(query), ix.dim)
	}
	n := ix.Len()
	if k <= 0 || n == 0 {
		return nil, nil
	}

	hits := make([]Hit, n)
	for pos := 0; pos < n; pos++ {
		row := ix.data[pos*ix.dim : (pos+1)*ix.dim]
		var dot float32
		for i, q := range query {
			dot += q * row[i]
		}
		hits[pos] = Hit{Position: pos, Score: dot}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Persist 写临时文件后原子替换
func (ix *VectorIndex) Persist(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	stored := vectorIndexFile{
		Version: vectorIndexVersion,
		Dim:     ix.dim,
		Count:   ix.Len(),
		Data:    ix.data,
	}
	if err := gob.NewEncoder(file).Encode(&stored); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}
