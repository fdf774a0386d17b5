package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/aihub/multimodal-rag/internal/logger"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
	"github.com/unidoc/unipdf/v3/render"
	"go.uber.org/zap"
)

var ErrInvalidPDF = errors.New("invalid pdf document")

// PageImage 页面内嵌图片，Err非空表示该图片无法抽取
type PageImage struct {
	Index int
	Data  []byte
	Ext   string
	Err   error
}

// PDFSource 逐页提供文本与图片，页码从1开始
type PDFSource interface {
	Name() string
	PageCount() int
	PageText(ctx context.Context, page int) (string, error)
	PageImages(ctx context.Context, page int) ([]PageImage, error)
}

// PDFOptions 页面文本过短时的OCR兜底参数
type PDFOptions struct {
	OCR           OCR
	MinTextForOCR int
	RenderDPI     int
}

// SetPDFLicense 设置unidoc计量授权
func SetPDFLicense(key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	return license.SetMeteredKey(key)
}

// PDFDocument 基于unipdf的PDFSource实现
type PDFDocument struct {
	name   string
	reader *model.PdfReader
	pages  int
	opts   PDFOptions
}

// OpenPDF 解析PDF字节，加密文档尝试空密码
func OpenPDF(name string, data []byte, opts PDFOptions) (*PDFDocument, error) {
	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}

	encrypted, err := reader.IsEncrypted()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	if encrypted {
		ok, err := reader.Decrypt([]byte(""))
		if err != nil || !ok {
			return nil, fmt.Errorf("%w: encrypted document", ErrInvalidPDF)
		}
	}

	numPages, err := reader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("%w: 获取PDF页数失败: %v", ErrInvalidPDF, err)
	}

	if opts.OCR == nil {
		opts.OCR = NoopOCR{}
	}
	if opts.RenderDPI <= 0 {
		opts.RenderDPI = 200
	}

	return &PDFDocument{name: name, reader: reader, pages: numPages, opts: opts}, nil
}

func (d *PDFDocument) Name() string {
	return d.name
}

func (d *PDFDocument) PageCount() int {
	return d.pages
}

// PageText 原生文本足够长直接返回，否则栅格化整页做OCR并拼接；OCR失败时退回原生文本
func (d *PDFDocument) PageText(ctx context.Context, pageNum int) (string, error) {
	page, err := d.reader.GetPage(pageNum)
	if err != nil {
		return "", fmt.Errorf("get page %d: %w", pageNum, err)
	}

	ex, err := extractor.New(page)
	if err != nil {
		return "", fmt.Errorf("page %d extractor: %w", pageNum, err)
	}
	text, err := ex.ExtractText()
	if err != nil {
		logger.Debug("page text extraction failed, trying OCR",
			zap.String("source", d.name), zap.Int("page", pageNum), zap.Error(err))
		text = ""
	}

	if len([]rune(strings.TrimSpace(text))) >= d.opts.MinTextForOCR {
		return text, nil
	}

	img, err := d.renderPage(page)
	if err != nil {
		logger.Debug("page render failed", zap.String("source", d.name), zap.Int("page", pageNum), zap.Error(err))
		return text, nil
	}
	ocrText, err := d.opts.OCR.Recognize(ctx, img)
	if err != nil {
		logger.Debug("page OCR failed", zap.String("source", d.name), zap.Int("page", pageNum), zap.Error(err))
		return text, nil
	}
	return strings.TrimSpace(text + "\n" + ocrText), nil
}

func (d *PDFDocument) renderPage(page *model.PdfPage) ([]byte, error) {
	device := render.NewImageDevice()
	if box, err := page.GetMediaBox(); err == nil && box != nil {
		device.OutputWidth = int(box.Width() * float64(d.opts.RenderDPI) / 72.0)
	}
	img, err := device.Render(page)
	if err != nil {
		return nil, err
	}
	return encodePNG(img)
}

// PageImages 单张图片失败记录在PageImage.Err中，不影响同页其他图片
func (d *PDFDocument) PageImages(ctx context.Context, pageNum int) ([]PageImage, error) {
	page, err := d.reader.GetPage(pageNum)
	if err != nil {
		return nil, fmt.Errorf("get page %d: %w", pageNum, err)
	}
	ex, err := extractor.New(page)
	if err != nil {
		return nil, fmt.Errorf("page %d extractor: %w", pageNum, err)
	}
	pageImages, err := ex.ExtractPageImages(nil)
	if err != nil {
		return nil, fmt.Errorf("page %d images: %w", pageNum, err)
	}

	out := make([]PageImage, 0, len(pageImages.Images))
	for i, mark := range pageImages.Images {
		item := PageImage{Index: i, Ext: ".png"}
		if mark.Image == nil {
			item.Err = errors.New("image object is empty")
			out = append(out, item)
			continue
		}
		goImg, err := mark.Image.ToGoImage()
		if err != nil {
			item.Err = fmt.Errorf("decode image: %w", err)
			out = append(out, item)
			continue
		}
		data, err := encodePNG(goImg)
		if err != nil {
			item.Err = fmt.Errorf("encode image: %w", err)
			out = append(out, item)
			continue
		}
		item.Data = data
		out = append(out, item)
	}
	return out, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
