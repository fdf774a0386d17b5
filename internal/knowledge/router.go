package knowledge

import (
	"context"
	"sort"
	"strings"

	"github.com/aihub/multimodal-rag/internal/logger"
	"go.uber.org/zap"
)

// QueryMode 查询意图
type QueryMode string

const (
	ModeText        QueryMode = "text"
	ModeImage       QueryMode = "image"
	ModeExploratory QueryMode = "exploratory"
)

var exploratoryTerms = []string{
	"summary", "summarize", "overview", "key findings", "high level", "what's in", "what is in", "overall",
}

var imageTerms = []string{
	"chart", "diagram", "figure", "image", "photo", "graph", "plot", "table", "screenshot", "picture", "visual",
}

// DetectQueryMode 按 exploratory > image > text 的优先级做子串匹配，大小写不敏感
func DetectQueryMode(query string) QueryMode {
	q := strings.ToLower(query)
	if containsAny(q, exploratoryTerms) {
		return ModeExploratory
	}
	if containsAny(q, imageTerms) {
		return ModeImage
	}
	return ModeText
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// OverfetchK 为文档过滤预留的候选数
func OverfetchK(k int) int {
	if k*10 > k+10 {
		return k * 10
	}
	return k + 10
}

// Scope 检索范围，DocumentID为空表示全部文档
type Scope struct {
	DocumentID string
}

func AllDocuments() Scope {
	return Scope{}
}

func OnlyDocument(documentID string) Scope {
	return Scope{DocumentID: documentID}
}

func (s Scope) allows(r Record) bool {
	return s.DocumentID == "" || r.DocumentID == s.DocumentID
}

// RetrievalResult 返回给调用方的检索结果
type RetrievalResult struct {
	Rank       int      `json:"rank"`
	Score      float32  `json:"score"`
	Modality   Modality `json:"modality"`
	Source     string   `json:"source"`
	Page       *int     `json:"page"`
	Text       string   `json:"text"`
	ImagePath  string   `json:"image_path,omitempty"`
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
}

// RouterConfig 检索参数
type RouterConfig struct {
	TopKDefault     int
	TopKExploratory int
	PreviewLimit    int
}

// QueryRouter 无状态，每次调用独立
type QueryRouter struct {
	embedder Embedder
	text     *ModalityStore
	image    *ModalityStore
	cfg      RouterConfig
}

func NewQueryRouter(embedder Embedder, textStore, imageStore *ModalityStore, cfg RouterConfig) *QueryRouter {
	if cfg.TopKDefault <= 0 {
		cfg.TopKDefault = 1
	}
	if cfg.TopKExploratory <= 0 {
		cfg.TopKExploratory = 5
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = 600
	}
	return &QueryRouter{embedder: embedder, text: textStore, image: imageStore, cfg: cfg}
}

// HasIndex 任一模态已有索引
func (r *QueryRouter) HasIndex() bool {
	return r.text.Exists() || r.image.Exists()
}

// Route 返回实际使用的模式与结果。索引缺失或过滤后为空时返回空结果而不是错误
func (r *QueryRouter) Route(ctx context.Context, query string, scope Scope) (QueryMode, []RetrievalResult, error) {
	mode := DetectQueryMode(query)
	k := r.cfg.TopKDefault
	if mode == ModeExploratory {
		k = r.cfg.TopKExploratory
	}

	textExists := r.text.Exists()
	imageExists := r.image.Exists()

	var qvec []float32
	if textExists || imageExists {
		vectors, err := r.embedder.Embed(ctx, []string{query})
		if err != nil {
			return mode, nil, err
		}
		if len(vectors) == 0 {
			return mode, nil, ErrEmbeddingCountMismatch
		}
		qvec = vectors[0]
	}

	var (
		results []RetrievalResult
		err     error
	)
	switch {
	case mode == ModeText && textExists:
		results, err = r.searchStore(ctx, r.text, qvec, k, scope)
	case mode == ModeImage && imageExists:
		results, err = r.searchStore(ctx, r.image, qvec, k, scope)
	case !textExists && imageExists:
		mode = ModeImage
		results, err = r.searchStore(ctx, r.image, qvec, k, scope)
	default:
		mode = ModeExploratory
		results, err = r.searchMerged(ctx, qvec, scope)
	}
	if err != nil {
		return mode, nil, err
	}

	logger.Debug("query routed",
		zap.String("mode", string(mode)),
		zap.String("scope", scope.DocumentID),
		zap.Int("results", len(results)))
	return mode, results, nil
}

// searchStore 超量召回后按文档过滤，再截断到k
func (r *QueryRouter) searchStore(ctx context.Context, store *ModalityStore, qvec []float32, k int, scope Scope) ([]RetrievalResult, error) {
	if qvec == nil || !store.Exists() {
		return []RetrievalResult{}, nil
	}

	hits, err := store.Search(ctx, qvec, OverfetchK(k))
	if err != nil {
		return nil, err
	}

	out := make([]RetrievalResult, 0, k)
	for _, h := range hits {
		if !scope.allows(h.Record) {
			continue
		}
		out = append(out, r.toResult(h, len(out)+1))
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// searchMerged 两个索引各取 TopKExploratory，按得分合并后重新编号
func (r *QueryRouter) searchMerged(ctx context.Context, qvec []float32, scope Scope) ([]RetrievalResult, error) {
	k := r.cfg.TopKExploratory

	textResults, err := r.searchStore(ctx, r.text, qvec, k, scope)
	if err != nil {
		return nil, err
	}
	imageResults, err := r.searchStore(ctx, r.image, qvec, k, scope)
	if err != nil {
		return nil, err
	}

	merged := append(textResults, imageResults...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged, nil
}

func (r *QueryRouter) toResult(h ScoredRecord, rank int) RetrievalResult {
	return RetrievalResult{
		Rank:       rank,
		Score:      h.Score,
		Modality:   h.Record.Modality,
		Source:     h.Record.Source,
		Page:       h.Record.Page,
		Text:       h.Record.Preview(r.cfg.PreviewLimit),
		ImagePath:  h.Record.ImagePath,
		ID:         h.Record.ID,
		DocumentID: h.Record.DocumentID,
	}
}
