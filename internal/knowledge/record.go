package knowledge

import "time"

// Modality 索引条目的内容类型
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

const (
	FileTypePDFText = "pdf_text"
	FileTypeText    = "text"
	FileTypeImage   = "image"
)

// Record 每个向量对应一条元数据，在日志中的位置与向量在索引中的位置一致
type Record struct {
	ID           string   `json:"id"`
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	Modality     Modality `json:"modality"`
	Source       string   `json:"source"`
	Page         *int     `json:"page"`
	CharStart    *int     `json:"char_start,omitempty"`
	CharEnd      *int     `json:"char_end,omitempty"`
	FileType     string   `json:"file_type"`
	UploadedAt   string   `json:"uploaded_at"`
	Text         string   `json:"text,omitempty"`
	ImagePath    string   `json:"image_path,omitempty"`
	Caption      string   `json:"caption,omitempty"`
}

// Preview 图片返回caption，文本返回片段，截断到limit个字符
func (r Record) Preview(limit int) string {
	s := r.Text
	if r.Modality == ModalityImage {
		s = r.Caption
	}
	return truncateRunes(s, limit)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func intPtr(v int) *int {
	return &v
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
