package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// maxEmbeddingInputs OpenAI 单次请求的输入条数上限
const maxEmbeddingInputs = 2048

var ErrEmbedderNotConfigured = errors.New("embedding provider not configured")

// Embedder 批量文本向量化接口，输出与输入一一对应、顺序一致
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Ready() bool
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct {
	dimensions int
}

func NewNoopEmbedder(dimensions int) *NoopEmbedder {
	return &NoopEmbedder{dimensions: dimensions}
}

func (n *NoopEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return nil, ErrEmbedderNotConfigured
}

func (n *NoopEmbedder) Dimensions() int {
	return n.dimensions
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedderConfig OpenAI embedding 参数
type OpenAIEmbedderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAIEmbedder 使用OpenAI Embedding API，返回L2归一化后的向量
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	batchSize  int
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器，未配置key时退化为NoopEmbedder
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) Embedder {
	apiKey := strings.TrimSpace(cfg.APIKey)
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		var ok bool
		if dims, ok = embeddingDimensions[model]; !ok {
			dims = 1536
		}
	}
	if apiKey == "" {
		return NewNoopEmbedder(dims)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		dimensions: dims,
		batchSize:  maxEmbeddingInputs,
	}
}

// Embed 整批请求，不重试；上游错误原样返回
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if e.client == nil {
		return nil, errors.New("openai client not initialized")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}

	Normalize(out)
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) || vectors[item.Index] != nil {
			return nil, fmt.Errorf("embedding response has unexpected index %d", item.Index)
		}
		vec := make([]float32, len(item.Embedding))
		copy(vec, item.Embedding)
		vectors[item.Index] = vec
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}

// Normalize 原地L2归一化，零向量保持为零
func Normalize(vectors [][]float32) {
	for _, v := range vectors {
		l2normalize(v)
	}
}

func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
