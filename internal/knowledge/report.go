package knowledge

import "sync"

// SkippedItem 入库过程中被跳过的条目，Page为0表示与页面无关
type SkippedItem struct {
	Page   int    `json:"page,omitempty"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// IngestionReport 一次上传的入库结果
type IngestionReport struct {
	DocumentID   string        `json:"document_id"`
	DocumentName string        `json:"document_name"`
	TextRecords  int           `json:"text_records"`
	ImageRecords int           `json:"image_records"`
	Skipped      []SkippedItem `json:"skipped,omitempty"`

	mu sync.Mutex
}

func NewIngestionReport(documentID, documentName string) *IngestionReport {
	return &IngestionReport{DocumentID: documentID, DocumentName: documentName}
}

// Skip 记录跳过原因，nil接收者安全
func (r *IngestionReport) Skip(page, index int, reason string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Skipped = append(r.Skipped, SkippedItem{Page: page, Index: index, Reason: reason})
}

func (r *IngestionReport) addText(n int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.TextRecords += n
	r.mu.Unlock()
}

func (r *IngestionReport) addImages(n int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.ImageRecords += n
	r.mu.Unlock()
}

// Indexed 是否至少写入了一条记录
func (r *IngestionReport) Indexed() bool {
	if r == nil {
		return false
	}
	return r.TextRecords+r.ImageRecords > 0
}
