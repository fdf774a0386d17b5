package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aihub/multimodal-rag/internal/config"
	apperrors "github.com/aihub/multimodal-rag/internal/errors"
	"github.com/aihub/multimodal-rag/internal/kafka"
	"github.com/aihub/multimodal-rag/internal/knowledge"
	"github.com/aihub/multimodal-rag/internal/logger"
	"github.com/aihub/multimodal-rag/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const statusReady = "ready"

// EventPublisher 入库事件发布，Kafka未启用时为nil
type EventPublisher interface {
	PublishIngestion(ctx context.Context, evt *kafka.IngestionEvent) error
}

// PDFOpener 打开PDF，测试中替换为假实现
type PDFOpener func(name string, data []byte) (knowledge.PDFSource, error)

// KnowledgeServiceDeps 构造KnowledgeService所需的组件
type KnowledgeServiceDeps struct {
	Knowledge  config.KnowledgeConfig
	MaxSize    int64
	Pipeline   *knowledge.Pipeline
	Router     *knowledge.QueryRouter
	Answerer   knowledge.Answerer
	Pointer    knowledge.DocumentPointer
	TextStore  *knowledge.ModalityStore
	ImageStore *knowledge.ModalityStore
	Images     knowledge.ImageStore
	Parsers    *knowledge.FileParserManager
	OpenPDF    PDFOpener
	Events     EventPublisher
	Metrics    *metrics.Collector
	InstanceID string
}

// KnowledgeService 上传、问答、重置。上传与重置互斥，查询并发执行
type KnowledgeService struct {
	cfg        config.KnowledgeConfig
	maxSize    int64
	pipeline   *knowledge.Pipeline
	router     *knowledge.QueryRouter
	answerer   knowledge.Answerer
	pointer    knowledge.DocumentPointer
	text       *knowledge.ModalityStore
	image      *knowledge.ModalityStore
	images     knowledge.ImageStore
	parsers    *knowledge.FileParserManager
	openPDF    PDFOpener
	events     EventPublisher
	metrics    *metrics.Collector
	translator *apperrors.ErrorTranslator
	breaker    *CircuitBreaker
	instanceID string

	newDocumentID func() string
	writeMu       sync.Mutex
}

// UploadResult 上传结果
type UploadResult struct {
	Message    string                     `json:"message"`
	DocumentID string                     `json:"document_id"`
	Filename   string                     `json:"filename"`
	FileType   string                     `json:"file_type"`
	Report     *knowledge.IngestionReport `json:"report"`
}

// AskResult 问答结果
type AskResult struct {
	Answer     string                      `json:"answer"`
	Mode       knowledge.QueryMode         `json:"mode"`
	Scope      string                      `json:"scope"`
	DocumentID string                      `json:"document_id,omitempty"`
	Results    []knowledge.RetrievalResult `json:"results"`
}

// StatusResult 索引状态
type StatusResult struct {
	Ready            bool   `json:"ready"`
	HasTextIndex     bool   `json:"has_text_index"`
	HasImageIndex    bool   `json:"has_image_index"`
	TextRecords      int    `json:"text_records"`
	ImageRecords     int    `json:"image_records"`
	LatestDocumentID string `json:"latest_document_id,omitempty"`
	AnswerCircuit    string `json:"answer_circuit"`
}

func NewKnowledgeService(deps KnowledgeServiceDeps) *KnowledgeService {
	s := &KnowledgeService{
		cfg:           deps.Knowledge,
		maxSize:       deps.MaxSize,
		pipeline:      deps.Pipeline,
		router:        deps.Router,
		answerer:      deps.Answerer,
		pointer:       deps.Pointer,
		text:          deps.TextStore,
		image:         deps.ImageStore,
		images:        deps.Images,
		parsers:       deps.Parsers,
		openPDF:       deps.OpenPDF,
		events:        deps.Events,
		metrics:       deps.Metrics,
		translator:    apperrors.NewErrorTranslator(),
		breaker:       NewCircuitBreaker("answer", 5, 1, time.Minute),
		instanceID:    deps.InstanceID,
		newDocumentID: uuid.NewString,
	}
	if s.parsers == nil {
		s.parsers = knowledge.NewFileParserManager()
	}
	if s.answerer == nil {
		s.answerer = knowledge.NoopAnswerer{}
	}
	if s.instanceID == "" {
		s.instanceID = uuid.NewString()
	}
	return s
}

// InstanceID 本实例标识，用于忽略自己发布的事件
func (s *KnowledgeService) InstanceID() string {
	return s.instanceID
}

// Upload 按扩展名分发到对应的入库路径；成功后更新最新文档指针与状态标记
func (s *KnowledgeService) Upload(ctx context.Context, filename string, data []byte) (*UploadResult, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeMissingRequired, "No file selected.")
	}
	if len(data) == 0 {
		return nil, apperrors.NewNoContentError(filename, "Uploaded file is empty.")
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeFileTooLarge,
			fmt.Sprintf("File exceeds the %d byte upload limit.", s.maxSize))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	ext := strings.ToLower(filepath.Ext(filename))
	documentID := s.newDocumentID()
	report := knowledge.NewIngestionReport(documentID, filename)

	var (
		fileType string
		message  string
		err      error
	)
	switch {
	case ext == ".pdf":
		fileType = "pdf"
		message = fmt.Sprintf("PDF '%s' indexed successfully!", filename)
		err = s.ingestPDF(ctx, filename, data, documentID, report)
	case ext == ".png" || ext == ".jpg" || ext == ".jpeg":
		fileType = "image"
		message = fmt.Sprintf("Image '%s' indexed successfully!", filename)
		err = s.ingestImage(ctx, filename, data, documentID, report)
	case s.parsers.Supports(filename):
		fileType = "text"
		message = fmt.Sprintf("Text file '%s' indexed successfully!", filename)
		err = s.ingestTextFile(ctx, filename, data, documentID, report)
	default:
		s.metrics.ObserveIngestion("unsupported", "rejected", 0, 0, 0, time.Since(start))
		return nil, apperrors.NewUnsupportedFileTypeError(filename, ext)
	}

	if err != nil {
		status := "failed"
		if apperrors.IsInputError(err) {
			status = "rejected"
		}
		s.metrics.ObserveIngestion(fileType, status, report.TextRecords, report.ImageRecords, len(report.Skipped), time.Since(start))
		logger.Warn("文件入库失败",
			zap.String("file", filename),
			zap.String("document_id", documentID),
			zap.Error(err))
		return nil, err
	}

	if err := s.pointer.Set(ctx, documentID); err != nil {
		// 数据已经提交，指针写失败只影响latest-only查询
		logger.Error("更新最新文档指针失败", zap.String("document_id", documentID), zap.Error(err))
	}
	if err := s.markReady(); err != nil {
		logger.Warn("写入上传状态失败", zap.Error(err))
	}
	s.metrics.ObserveIngestion(fileType, "success", report.TextRecords, report.ImageRecords, len(report.Skipped), time.Since(start))
	s.publish(ctx, &kafka.IngestionEvent{
		Action:       kafka.ActionIngested,
		DocumentID:   documentID,
		DocumentName: filename,
		FileType:     fileType,
		TextRecords:  report.TextRecords,
		ImageRecords: report.ImageRecords,
		Skipped:      len(report.Skipped),
	})

	logger.Info("文件入库成功",
		zap.String("file", filename),
		zap.String("document_id", documentID),
		zap.Int("text_records", report.TextRecords),
		zap.Int("image_records", report.ImageRecords),
		zap.Int("skipped", len(report.Skipped)),
		zap.Duration("elapsed", time.Since(start)))

	return &UploadResult{
		Message:    message,
		DocumentID: documentID,
		Filename:   filename,
		FileType:   fileType,
		Report:     report,
	}, nil
}

// ingestPDF 文本与图片两条路径互不影响，任意一条成功即视为成功
func (s *KnowledgeService) ingestPDF(ctx context.Context, filename string, data []byte, documentID string, report *knowledge.IngestionReport) error {
	if s.openPDF == nil {
		return apperrors.NewSystemError(apperrors.ErrCodeInternalServer, "PDF support is not configured")
	}
	doc, err := s.openPDF(filename, data)
	if err != nil {
		return s.translate(filename, err)
	}

	textOK, textErr := s.pipeline.IngestPDFText(ctx, doc, documentID, report)
	if textErr != nil {
		logger.Warn("PDF文本入库失败", zap.String("file", filename), zap.Error(textErr))
	}
	imageOK, imageErr := s.pipeline.IngestPDFImages(ctx, doc, documentID, report)
	if imageErr != nil {
		logger.Warn("PDF图片入库失败", zap.String("file", filename), zap.Error(imageErr))
	}

	switch {
	case textOK || imageOK:
		if textErr != nil {
			report.Skip(0, -1, fmt.Sprintf("text indexing failed: %v", textErr))
		}
		if imageErr != nil {
			report.Skip(0, -1, fmt.Sprintf("image indexing failed: %v", imageErr))
		}
		return nil
	case textErr != nil:
		return s.translate(filename, textErr)
	case imageErr != nil:
		return s.translate(filename, imageErr)
	default:
		return apperrors.NewNoContentError(filename, "No data found in PDF.")
	}
}

func (s *KnowledgeService) ingestImage(ctx context.Context, filename string, data []byte, documentID string, report *knowledge.IngestionReport) error {
	ok, err := s.pipeline.IngestImage(ctx, filename, data, documentID, report)
	if err != nil {
		return s.translate(filename, err)
	}
	if !ok {
		return apperrors.NewNoContentError(filename, "Image indexing failed.")
	}
	return nil
}

func (s *KnowledgeService) ingestTextFile(ctx context.Context, filename string, data []byte, documentID string, report *knowledge.IngestionReport) error {
	ok, err := s.pipeline.IngestTextFile(ctx, filename, data, documentID, report)
	if err != nil {
		return s.translate(filename, err)
	}
	if !ok {
		return apperrors.NewNoContentError(filename, "Text file indexing failed.")
	}
	return nil
}

// Search 只做检索不生成回答
func (s *KnowledgeService) Search(ctx context.Context, query string, allDocs bool) (*AskResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.NewValidationError("Query must not be empty.")
	}

	scope, scopeName, err := s.resolveScope(ctx, allDocs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	mode, results, err := s.router.Route(ctx, query, scope)
	if err != nil {
		logger.Error("检索失败", zap.String("query", query), zap.Error(err))
		return nil, s.translate("", err)
	}
	if results == nil {
		results = []knowledge.RetrievalResult{}
	}
	s.metrics.ObserveQuery(string(mode), len(results), time.Since(start))

	return &AskResult{
		Mode:       mode,
		Scope:      scopeName,
		DocumentID: scope.DocumentID,
		Results:    results,
	}, nil
}

// Ask 检索并生成回答。没有任何索引时直接提示先上传，回答生成失败时降级为错误提示文本
func (s *KnowledgeService) Ask(ctx context.Context, query string, allDocs bool) (*AskResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.NewValidationError("Query must not be empty.")
	}
	if !s.HasIndex() {
		return &AskResult{
			Answer:  knowledge.NoIndexMessage,
			Mode:    knowledge.ModeExploratory,
			Scope:   "all",
			Results: []knowledge.RetrievalResult{},
		}, nil
	}

	result, err := s.Search(ctx, query, allDocs)
	if err != nil {
		return nil, err
	}

	var answer string
	err = s.breaker.Call(func() error {
		var callErr error
		answer, callErr = s.answerer.Answer(ctx, strings.TrimSpace(query), result.Results)
		return callErr
	})
	if err != nil {
		logger.Warn("回答生成失败", zap.Error(err))
		s.metrics.AnswerFailed()
		answer = knowledge.UnavailableAnswer(err)
	}
	result.Answer = answer
	return result, nil
}

// resolveScope 默认只查最近一次上传的文档；没有指针时退化为全部文档
func (s *KnowledgeService) resolveScope(ctx context.Context, allDocs bool) (knowledge.Scope, string, error) {
	if allDocs || !s.cfg.LatestOnlyDefault {
		return knowledge.AllDocuments(), "all", nil
	}
	latest, err := s.pointer.Get(ctx)
	if err != nil {
		return knowledge.Scope{}, "", apperrors.NewSystemError(apperrors.ErrCodeStorageFailed, "Failed to read latest document").WithCause(err)
	}
	if latest == "" {
		return knowledge.AllDocuments(), "all", nil
	}
	return knowledge.OnlyDocument(latest), "latest", nil
}

// HasIndex 任一模态的索引文件存在
func (s *KnowledgeService) HasIndex() bool {
	return s.router.HasIndex()
}

// Ready 最近一次上传成功且之后没有回到首页或重置
func (s *KnowledgeService) Ready() bool {
	data, err := os.ReadFile(s.cfg.StatusPath())
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == statusReady
}

func (s *KnowledgeService) markReady() error {
	path := s.cfg.StatusPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(statusReady), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ClearStatus 删除状态标记，不影响索引
func (s *KnowledgeService) ClearStatus() error {
	if err := os.Remove(s.cfg.StatusPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Status 汇总索引状态
func (s *KnowledgeService) Status(ctx context.Context) (*StatusResult, error) {
	status := &StatusResult{
		Ready:         s.Ready(),
		HasTextIndex:  s.text.Exists(),
		HasImageIndex: s.image.Exists(),
		AnswerCircuit: s.breaker.GetState().String(),
	}
	var err error
	if status.TextRecords, err = s.text.Len(); err != nil {
		return nil, s.translate("", err)
	}
	if status.ImageRecords, err = s.image.Len(); err != nil {
		return nil, s.translate("", err)
	}
	if status.LatestDocumentID, err = s.pointer.Get(ctx); err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeStorageFailed, "Failed to read latest document").WithCause(err)
	}
	return status, nil
}

// Reset 清空两个索引、元数据、图片、最新文档指针与状态标记
func (s *KnowledgeService) Reset(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var errs []error
	if err := s.text.Reset(); err != nil {
		errs = append(errs, fmt.Errorf("reset text index: %w", err))
	}
	if err := s.image.Reset(); err != nil {
		errs = append(errs, fmt.Errorf("reset image index: %w", err))
	}
	if err := s.images.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear images: %w", err))
	}
	if err := s.pointer.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear latest document: %w", err))
	}
	if err := s.ClearStatus(); err != nil {
		errs = append(errs, fmt.Errorf("clear status: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("重置索引失败", zap.Error(err))
		return apperrors.NewSystemError(apperrors.ErrCodeStorageFailed, "Failed to reset index").WithCause(err)
	}

	s.publish(ctx, &kafka.IngestionEvent{Action: kafka.ActionReset})
	logger.Info("索引已重置")
	return nil
}

// OpenImage 读取抽取或上传的图片
func (s *KnowledgeService) OpenImage(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.images.Open(ctx, name)
	if err != nil {
		if errors.Is(err, knowledge.ErrInvalidImageName) || errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewBusinessError(apperrors.ErrCodeNotFound, "Image not found")
		}
		return nil, apperrors.NewSystemError(apperrors.ErrCodeStorageFailed, "Failed to read image").WithCause(err)
	}
	return rc, nil
}

// HandleIngestionEvent 其他实例写入或清空了共享索引，丢弃内存缓存
func (s *KnowledgeService) HandleIngestionEvent(ctx context.Context, evt *kafka.IngestionEvent) error {
	if evt.InstanceID == s.instanceID {
		return nil
	}
	s.text.Invalidate()
	s.image.Invalidate()
	logger.Info("收到其他实例的入库事件，已刷新索引缓存",
		zap.String("action", evt.Action),
		zap.String("instance_id", evt.InstanceID),
		zap.String("document_id", evt.DocumentID))
	return nil
}

// publish 事件发送失败不影响主流程
func (s *KnowledgeService) publish(ctx context.Context, evt *kafka.IngestionEvent) {
	if s.events == nil {
		return
	}
	evt.EventID = uuid.NewString()
	evt.InstanceID = s.instanceID
	evt.Timestamp = time.Now().UTC()

	err := s.events.PublishIngestion(ctx, evt)
	s.metrics.EventPublished(err == nil)
	if err != nil {
		logger.Warn("发布入库事件失败", zap.String("action", evt.Action), zap.Error(err))
	}
}
