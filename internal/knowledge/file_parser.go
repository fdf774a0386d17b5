package knowledge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrUnreadableFile      = errors.New("file could not be read")
)

// FileParser 文本类文件解析器，输出整篇文档的文本
type FileParser interface {
	Parse(reader io.Reader, filename string) (string, error)
	Supports(filename string) bool
	Extensions() []string
}

// TextParser 纯文本，非法UTF-8字节直接丢弃
type TextParser struct{}

func (p *TextParser) Supports(filename string) bool {
	return hasExtension(filename, p.Extensions())
}

func (p *TextParser) Extensions() []string {
	return []string{".txt", ".md", ".markdown"}
}

func (p *TextParser) Parse(reader io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	return strings.ToValidUTF8(string(content), ""), nil
}

// WordParser 按段落顺序拼接，段落之间用换行分隔
type WordParser struct{}

func (p *WordParser) Supports(filename string) bool {
	return hasExtension(filename, p.Extensions())
}

func (p *WordParser) Extensions() []string {
	return []string{".docx"}
}

func (p *WordParser) Parse(reader io.Reader, filename string) (string, error) {
	docBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取Word文件失败: %w", err)
	}

	doc, err := document.Read(bytes.NewReader(docBytes), int64(len(docBytes)))
	if err != nil {
		return "", fmt.Errorf("解析Word文档失败: %w", err)
	}
	defer doc.Close()

	paragraphs := doc.Paragraphs()
	lines := make([]string, 0, len(paragraphs))
	for _, para := range paragraphs {
		var sb strings.Builder
		for _, run := range para.Runs() {
			sb.WriteString(run.Text())
		}
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, "\n"), nil
}

// ExcelParser 每个工作表一段，单元格用制表符分隔
type ExcelParser struct{}

func (p *ExcelParser) Supports(filename string) bool {
	return hasExtension(filename, p.Extensions())
}

func (p *ExcelParser) Extensions() []string {
	return []string{".xlsx"}
}

func (p *ExcelParser) Parse(reader io.Reader, filename string) (string, error) {
	excelBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取Excel文件失败: %w", err)
	}

	ss, err := spreadsheet.Read(bytes.NewReader(excelBytes), int64(len(excelBytes)))
	if err != nil {
		return "", fmt.Errorf("解析Excel文档失败: %w", err)
	}
	defer ss.Close()

	var textBuilder strings.Builder
	for _, sheet := range ss.Sheets() {
		textBuilder.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name()))
		for _, row := range sheet.Rows() {
			var rowText []string
			for _, cell := range row.Cells() {
				rowText = append(rowText, cell.GetString())
			}
			if len(rowText) > 0 {
				textBuilder.WriteString(strings.Join(rowText, "\t"))
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}

// FileParserManager 文件解析器管理器
type FileParserManager struct {
	parsers []FileParser
}

func NewFileParserManager() *FileParserManager {
	return &FileParserManager{
		parsers: []FileParser{
			&TextParser{},
			&WordParser{},
			&ExcelParser{},
		},
	}
}

// Supports 是否有解析器能处理该文件
func (m *FileParserManager) Supports(filename string) bool {
	for _, parser := range m.parsers {
		if parser.Supports(filename) {
			return true
		}
	}
	return false
}

// ParseFile 解析文件
func (m *FileParserManager) ParseFile(reader io.Reader, filename string) (string, error) {
	for _, parser := range m.parsers {
		if !parser.Supports(filename) {
			continue
		}
		text, err := parser.Parse(reader, filename)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		return text, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, strings.ToLower(filepath.Ext(filename)))
}

// SupportedFormats 支持的扩展名，已排序
func (m *FileParserManager) SupportedFormats() []string {
	var out []string
	for _, parser := range m.parsers {
		out = append(out, parser.Extensions()...)
	}
	sort.Strings(out)
	return out
}

func hasExtension(filename string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
