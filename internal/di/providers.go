package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aihub/multimodal-rag/internal/config"
	"github.com/aihub/multimodal-rag/internal/database"
	"github.com/aihub/multimodal-rag/internal/kafka"
	"github.com/aihub/multimodal-rag/internal/knowledge"
	"github.com/aihub/multimodal-rag/internal/logger"
	"github.com/aihub/multimodal-rag/internal/metrics"
	"github.com/aihub/multimodal-rag/internal/services"
	"github.com/aihub/multimodal-rag/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// Stores 文本与图片两个模态的索引
type Stores struct {
	Text  *knowledge.ModalityStore
	Image *knowledge.ModalityStore
}

// Closers 需要在退出时释放的外部连接，按注册的逆序关闭
type Closers struct {
	mu  sync.Mutex
	fns []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

func (c *Closers) Add(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, namedCloser{name: name, fn: fn})
}

func (c *Closers) Close() error {
	c.mu.Lock()
	fns := c.fns
	c.fns = nil
	c.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", fns[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container, cfg *config.Config) error {
	providers := []interface{}{
		func() *config.Config { return cfg },
		func() *Closers { return &Closers{} },
		database.NewHealthRegistry,
		metrics.Default,
		knowledge.NewFileParserManager,
		provideEmbedder,
		provideStores,
		provideImageStore,
		provideOCR,
		provideChunker,
		providePipeline,
		provideRouter,
		provideAnswerer,
		providePointer,
		provideEventPublisher,
		providePDFOpener,
		provideKnowledgeService,
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

func provideEmbedder(cfg *config.Config) knowledge.Embedder {
	embedder := knowledge.NewOpenAIEmbedder(knowledge.OpenAIEmbedderConfig{
		APIKey:     cfg.AI.OpenAIAPIKey,
		BaseURL:    cfg.AI.BaseURL,
		Model:      cfg.Knowledge.Embedding.Model,
		Dimensions: cfg.Knowledge.Embedding.Dimensions,
	})
	if !embedder.Ready() {
		logger.Warn("OPENAI_API_KEY not set, embedding disabled; uploads and queries will fail")
	}
	return embedder
}

func provideStores(cfg *config.Config, embedder knowledge.Embedder) *Stores {
	k := cfg.Knowledge
	dim := embedder.Dimensions()
	return &Stores{
		Text:  knowledge.NewModalityStore(knowledge.ModalityText, k.TextIndexPath(), k.TextMetadataPath(), dim),
		Image: knowledge.NewModalityStore(knowledge.ModalityImage, k.ImageIndexPath(), k.ImageMetadataPath(), dim),
	}
}

func provideImageStore(cfg *config.Config) (knowledge.ImageStore, error) {
	sc := cfg.Knowledge.Storage
	if sc.Provider != "minio" {
		return knowledge.NewLocalImageStore(cfg.Knowledge.ImagesPath())
	}

	client, err := storage.NewMinIOClient(sc)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := knowledge.NewMinIOImageStore(ctx, client, sc.Bucket, sc.Prefix)
	if err != nil {
		return nil, err
	}
	logger.Info("图片存储使用MinIO", zap.String("endpoint", sc.Endpoint), zap.String("bucket", sc.Bucket))
	return store, nil
}

func provideOCR(cfg *config.Config) knowledge.OCR {
	if !cfg.OCR.Enabled {
		return knowledge.NoopOCR{}
	}
	ocr, err := knowledge.NewTesseractOCR(cfg.OCR.Command, cfg.OCR.Languages)
	if err != nil {
		logger.Warn("OCR不可用，图片说明将使用默认文本", zap.Error(err))
		return knowledge.NoopOCR{}
	}
	return ocr
}

func provideChunker(cfg *config.Config) *knowledge.Chunker {
	return knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
}

type pipelineParams struct {
	dig.In

	Chunker  *knowledge.Chunker
	Embedder knowledge.Embedder
	Stores   *Stores
	Images   knowledge.ImageStore
	OCR      knowledge.OCR
	Parsers  *knowledge.FileParserManager
}

func providePipeline(p pipelineParams) *knowledge.Pipeline {
	return knowledge.NewPipeline(knowledge.PipelineDeps{
		Chunker:    p.Chunker,
		Embedder:   p.Embedder,
		TextStore:  p.Stores.Text,
		ImageStore: p.Stores.Image,
		Images:     p.Images,
		OCR:        p.OCR,
		Parsers:    p.Parsers,
	})
}

func provideRouter(cfg *config.Config, embedder knowledge.Embedder, stores *Stores) *knowledge.QueryRouter {
	return knowledge.NewQueryRouter(embedder, stores.Text, stores.Image, knowledge.RouterConfig{
		TopKDefault:     cfg.Knowledge.TopKDefault,
		TopKExploratory: cfg.Knowledge.TopKExploratory,
		PreviewLimit:    cfg.Knowledge.PreviewLimit,
	})
}

func provideAnswerer(cfg *config.Config) knowledge.Answerer {
	return knowledge.NewOpenAIAnswerer(knowledge.OpenAIAnswererConfig{
		APIKey:      cfg.AI.OpenAIAPIKey,
		BaseURL:     cfg.AI.BaseURL,
		Model:       cfg.AI.ChatModel,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: float32(cfg.AI.Temperature),
	})
}

// providePointer Redis不可用时退化为文件指针
func providePointer(cfg *config.Config, closers *Closers, health *database.HealthRegistry) knowledge.DocumentPointer {
	filePointer := knowledge.NewFilePointer(cfg.Knowledge.PointerPath())
	if cfg.Knowledge.Pointer.Provider != "redis" {
		return filePointer
	}

	client, err := database.NewRedisClient(context.Background(), cfg.Redis)
	if err != nil {
		logger.Warn("Redis初始化失败，最新文档指针使用本地文件", zap.Error(err))
		return filePointer
	}
	closers.Add("redis", client.Close)

	checker := database.NewRedisHealthChecker(client)
	health.Register(checker)
	go checker.Start(context.Background())
	closers.Add("redis-health", checker.Stop)

	return knowledge.NewRedisPointer(client, cfg.Knowledge.Pointer.Key)
}

// provideEventPublisher Kafka未启用或连接失败时返回nil，上传不受影响
func provideEventPublisher(cfg *config.Config, closers *Closers) services.EventPublisher {
	if !cfg.Kafka.Enabled {
		return nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		logger.Warn("Kafka初始化失败，入库事件不会发布", zap.Error(err))
		return nil
	}
	closers.Add("kafka-producer", producer.Close)
	return producer
}

func providePDFOpener(cfg *config.Config, ocr knowledge.OCR) services.PDFOpener {
	if err := knowledge.SetPDFLicense(cfg.Knowledge.PDF.LicenseKey); err != nil {
		logger.Warn("unidoc license设置失败", zap.Error(err))
	}
	opts := knowledge.PDFOptions{
		OCR:           ocr,
		MinTextForOCR: cfg.Knowledge.TextMinLenForNoOCR,
		RenderDPI:     cfg.Knowledge.PDF.RenderDPI,
	}
	return func(name string, data []byte) (knowledge.PDFSource, error) {
		doc, err := knowledge.OpenPDF(name, data, opts)
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
}

type serviceParams struct {
	dig.In

	Config   *config.Config
	Pipeline *knowledge.Pipeline
	Router   *knowledge.QueryRouter
	Answerer knowledge.Answerer
	Pointer  knowledge.DocumentPointer
	Stores   *Stores
	Images   knowledge.ImageStore
	Parsers  *knowledge.FileParserManager
	OpenPDF  services.PDFOpener
	Events   services.EventPublisher
	Metrics  *metrics.Collector
}

func provideKnowledgeService(p serviceParams) *services.KnowledgeService {
	return services.NewKnowledgeService(services.KnowledgeServiceDeps{
		Knowledge:  p.Config.Knowledge,
		MaxSize:    p.Config.FileUpload.MaxSize,
		Pipeline:   p.Pipeline,
		Router:     p.Router,
		Answerer:   p.Answerer,
		Pointer:    p.Pointer,
		TextStore:  p.Stores.Text,
		ImageStore: p.Stores.Image,
		Images:     p.Images,
		Parsers:    p.Parsers,
		OpenPDF:    p.OpenPDF,
		Events:     p.Events,
		Metrics:    p.Metrics,
		InstanceID: instanceID(),
	})
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return host + "-" + uuid.NewString()[:8]
}
