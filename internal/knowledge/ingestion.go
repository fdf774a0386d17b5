package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/aihub/multimodal-rag/internal/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNoContent              = errors.New("no indexable content")
	ErrInvalidImage           = errors.New("invalid image")
	ErrEmbeddingFailed        = errors.New("embedding request failed")
	ErrEmbeddingCountMismatch = errors.New("embedding count does not match inputs")
)

// PipelineDeps 入库流水线依赖
type PipelineDeps struct {
	Chunker    *Chunker
	Embedder   Embedder
	TextStore  *ModalityStore
	ImageStore *ModalityStore
	Images     ImageStore
	OCR        OCR
	Parsers    *FileParserManager
}

// Pipeline 切分 -> 向量化 -> 成对写入
type Pipeline struct {
	chunker  *Chunker
	embedder Embedder
	text     *ModalityStore
	image    *ModalityStore
	images   ImageStore
	ocr      OCR
	parsers  *FileParserManager

	now   func() time.Time
	newID func() string
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		chunker:  deps.Chunker,
		embedder: deps.Embedder,
		text:     deps.TextStore,
		image:    deps.ImageStore,
		images:   deps.Images,
		ocr:      deps.OCR,
		parsers:  deps.Parsers,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	if p.chunker == nil {
		p.chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	if p.ocr == nil {
		p.ocr = NoopOCR{}
	}
	if p.parsers == nil {
		p.parsers = NewFileParserManager()
	}
	return p
}

type pageText struct {
	page *int
	text string
}

// IngestPDFText 逐页切分后一次性向量化写入文本索引；没有任何非空分块时返回false
func (p *Pipeline) IngestPDFText(ctx context.Context, doc PDFSource, documentID string, report *IngestionReport) (bool, error) {
	pages := make([]pageText, 0, doc.PageCount())
	for pageNum := 1; pageNum <= doc.PageCount(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		text, err := doc.PageText(ctx, pageNum)
		if err != nil {
			logger.Warn("skip unreadable page",
				zap.String("source", doc.Name()), zap.Int("page", pageNum), zap.Error(err))
			report.Skip(pageNum, -1, fmt.Sprintf("page text unavailable: %v", err))
			continue
		}
		pages = append(pages, pageText{page: intPtr(pageNum), text: text})
	}

	n, err := p.indexText(ctx, documentID, doc.Name(), FileTypePDFText, pages)
	if err != nil {
		return false, err
	}
	report.addText(n)
	return n > 0, nil
}

// IngestTextFile txt/md/docx/xlsx 整篇文档走同一条文本路径
func (p *Pipeline) IngestTextFile(ctx context.Context, filename string, data []byte, documentID string, report *IngestionReport) (bool, error) {
	text, err := p.parsers.ParseFile(bytes.NewReader(data), filename)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(text) == "" {
		return false, fmt.Errorf("%w: no readable text content found", ErrNoContent)
	}

	n, err := p.indexText(ctx, documentID, filename, FileTypeText, []pageText{{text: text}})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, fmt.Errorf("%w: no valid text chunks to embed", ErrNoContent)
	}
	report.addText(n)
	return true, nil
}

func (p *Pipeline) indexText(ctx context.Context, documentID, source, fileType string, pages []pageText) (int, error) {
	uploadedAt := timestamp(p.now())

	var records []Record
	var inputs []string
	for _, pg := range pages {
		for _, chunk := range p.chunker.Split(pg.text) {
			trimmed := strings.TrimSpace(chunk.Text)
			if trimmed == "" {
				continue
			}
			// 偏移量跟随去掉首尾空白后的文本
			lead := utf8.RuneCountInString(chunk.Text) - utf8.RuneCountInString(strings.TrimLeftFunc(chunk.Text, unicode.IsSpace))
			trail := utf8.RuneCountInString(chunk.Text) - utf8.RuneCountInString(strings.TrimRightFunc(chunk.Text, unicode.IsSpace))
			records = append(records, Record{
				ID:           p.newID(),
				DocumentID:   documentID,
				DocumentName: source,
				Modality:     ModalityText,
				Source:       source,
				Page:         pg.page,
				CharStart:    intPtr(chunk.CharStart + lead),
				CharEnd:      intPtr(chunk.CharEnd - trail),
				FileType:     fileType,
				UploadedAt:   uploadedAt,
				Text:         trimmed,
			})
			inputs = append(inputs, trimmed)
		}
	}
	if len(records) == 0 {
		return 0, nil
	}

	if err := p.appendEmbedded(ctx, p.text, records, inputs); err != nil {
		return 0, err
	}

	logger.Info("text chunks indexed",
		zap.String("document_id", documentID),
		zap.String("source", source),
		zap.Int("chunks", len(records)))
	return len(records), nil
}

// IngestPDFImages 抽取每页内嵌图片；单张失败只记录到报告里
func (p *Pipeline) IngestPDFImages(ctx context.Context, doc PDFSource, documentID string, report *IngestionReport) (bool, error) {
	uploadedAt := timestamp(p.now())

	var records []Record
	var captions []string
	var saved []string
	for pageNum := 1; pageNum <= doc.PageCount(); pageNum++ {
		if err := ctx.Err(); err != nil {
			p.discardImages(ctx, saved)
			return false, err
		}
		images, err := doc.PageImages(ctx, pageNum)
		if err != nil {
			logger.Warn("skip page images", zap.String("source", doc.Name()), zap.Int("page", pageNum), zap.Error(err))
			report.Skip(pageNum, -1, fmt.Sprintf("page images unavailable: %v", err))
			continue
		}

		for _, img := range images {
			if img.Err != nil || len(img.Data) == 0 {
				reason := "empty image data"
				if img.Err != nil {
					reason = img.Err.Error()
				}
				logger.Warn("skip embedded image",
					zap.String("source", doc.Name()), zap.Int("page", pageNum),
					zap.Int("index", img.Index), zap.String("reason", reason))
				report.Skip(pageNum, img.Index, reason)
				continue
			}

			id := p.newID()
			ext := img.Ext
			if ext == "" {
				ext = ".png"
			}
			imagePath, err := p.images.Save(ctx, id+ext, img.Data)
			if err != nil {
				report.Skip(pageNum, img.Index, fmt.Sprintf("save image: %v", err))
				continue
			}
			saved = append(saved, id+ext)

			caption := p.caption(ctx, img.Data)
			if caption == "" {
				caption = fmt.Sprintf("Image extracted from %s page %d", doc.Name(), pageNum)
			}

			records = append(records, Record{
				ID:           id,
				DocumentID:   documentID,
				DocumentName: doc.Name(),
				Modality:     ModalityImage,
				Source:       doc.Name(),
				Page:         intPtr(pageNum),
				FileType:     FileTypeImage,
				UploadedAt:   uploadedAt,
				ImagePath:    imagePath,
				Caption:      caption,
			})
			captions = append(captions, caption)
		}
	}
	if len(records) == 0 {
		return false, nil
	}

	if err := p.appendEmbedded(ctx, p.image, records, captions); err != nil {
		p.discardImages(ctx, saved)
		return false, err
	}
	report.addImages(len(records))

	logger.Info("pdf images indexed",
		zap.String("document_id", documentID),
		zap.String("source", doc.Name()),
		zap.Int("images", len(records)))
	return true, nil
}

// IngestImage 单张图片统一转成PNG保存；没有得到向量时返回false且不写入
func (p *Pipeline) IngestImage(ctx context.Context, filename string, data []byte, documentID string, report *IngestionReport) (bool, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	pngData, err := encodePNG(img)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	id := p.newID()
	name := id + ".png"
	imagePath, err := p.images.Save(ctx, name, pngData)
	if err != nil {
		return false, fmt.Errorf("save image: %w", err)
	}

	caption := p.caption(ctx, pngData)
	if caption == "" {
		caption = fmt.Sprintf("Uploaded image (%s), no OCR text detected", name)
	}

	documentName, source := filename, filename
	if filename == "" {
		documentName, source = name, "uploaded_image"
	}

	vectors, err := p.embed(ctx, []string{caption})
	if err != nil {
		p.discardImages(ctx, []string{name})
		return false, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		logger.Warn("no embedding generated for image caption", zap.String("file", filename))
		report.Skip(0, 0, "no embedding generated for image caption")
		p.discardImages(ctx, []string{name})
		return false, nil
	}

	record := Record{
		ID:           id,
		DocumentID:   documentID,
		DocumentName: documentName,
		Modality:     ModalityImage,
		Source:       source,
		FileType:     FileTypeImage,
		UploadedAt:   timestamp(p.now()),
		ImagePath:    imagePath,
		Caption:      caption,
	}
	if err := p.image.Append(ctx, []Entry{{Vector: vectors[0], Record: record}}); err != nil {
		p.discardImages(ctx, []string{name})
		return false, err
	}
	report.addImages(1)
	return true, nil
}

// discardImages 删除没有写入索引的图片
func (p *Pipeline) discardImages(ctx context.Context, names []string) {
	ctx = context.WithoutCancel(ctx)
	for _, name := range names {
		if err := p.images.Remove(ctx, name); err != nil {
			logger.Warn("failed to remove orphaned image", zap.String("name", name), zap.Error(err))
		}
	}
}

// caption OCR失败视为没有文字
func (p *Pipeline) caption(ctx context.Context, data []byte) string {
	text, err := p.ocr.Recognize(ctx, data)
	if err != nil {
		logger.Debug("image OCR failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(text)
}

func (p *Pipeline) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	vectors, err := p.embedder.Embed(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

func (p *Pipeline) appendEmbedded(ctx context.Context, store *ModalityStore, records []Record, inputs []string) error {
	vectors, err := p.embed(ctx, inputs)
	if err != nil {
		return err
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("%w: %d vectors for %d records", ErrEmbeddingCountMismatch, len(vectors), len(records))
	}

	entries := make([]Entry, len(records))
	for i := range records {
		entries[i] = Entry{Vector: vectors[i], Record: records[i]}
	}
	return store.Append(ctx, entries)
}
