package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	AI         AIConfig         `mapstructure:"ai"`
	FileUpload FileUploadConfig `mapstructure:"file_upload"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge" validate:"required"`
	OCR        OCRConfig        `mapstructure:"ocr"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required"`
	Env  string `mapstructure:"env"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// KafkaConfig 入库事件。GroupID为空时按主机名生成，保证每个实例都能收到全部事件
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
	Enabled bool     `mapstructure:"enabled"`
}

type AIConfig struct {
	OpenAIAPIKey string  `mapstructure:"openai_api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	ChatModel    string  `mapstructure:"chat_model" validate:"required"`
	MaxTokens    int     `mapstructure:"max_tokens" validate:"gte=0"`
	Temperature  float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
}

type FileUploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size" validate:"gt=0"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// KnowledgeConfig 检索与索引相关的全部参数
type KnowledgeConfig struct {
	ChunkSize          int  `mapstructure:"chunk_size" validate:"gt=0"`
	ChunkOverlap       int  `mapstructure:"chunk_overlap" validate:"gte=0"`
	TopKDefault        int  `mapstructure:"top_k_default" validate:"gte=1"`
	TopKExploratory    int  `mapstructure:"top_k_exploratory" validate:"gte=1"`
	PreviewLimit       int  `mapstructure:"preview_limit" validate:"gt=0"`
	TextMinLenForNoOCR int  `mapstructure:"text_min_len_for_no_ocr" validate:"gte=0"`
	LatestOnlyDefault  bool `mapstructure:"latest_only_default"`

	IndexDir  string `mapstructure:"index_dir" validate:"required"`
	ImagesDir string `mapstructure:"images_dir"`

	Embedding EmbeddingConfig     `mapstructure:"embedding"`
	Pointer   PointerConfig       `mapstructure:"pointer"`
	Storage   ObjectStorageConfig `mapstructure:"storage"`
	PDF       PDFConfig           `mapstructure:"pdf"`
}

type EmbeddingConfig struct {
	Model      string `mapstructure:"model" validate:"required"`
	Dimensions int    `mapstructure:"dimensions" validate:"gt=0"`
}

// PointerConfig 最近一次上传文档指针的存放位置
type PointerConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=file redis"`
	Key      string `mapstructure:"key"`
}

type ObjectStorageConfig struct {
	Provider  string `mapstructure:"provider" validate:"oneof=local minio"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

type PDFConfig struct {
	RenderDPI  int    `mapstructure:"render_dpi" validate:"gt=0"`
	LicenseKey string `mapstructure:"license_key"`
}

type OCRConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Command   string `mapstructure:"command"`
	Languages string `mapstructure:"languages"`
}

// TextIndexPath 文本向量索引文件
func (k KnowledgeConfig) TextIndexPath() string {
	return filepath.Join(k.IndexDir, "text.index")
}

func (k KnowledgeConfig) TextMetadataPath() string {
	return filepath.Join(k.IndexDir, "metadata_text.jsonl")
}

func (k KnowledgeConfig) ImageIndexPath() string {
	return filepath.Join(k.IndexDir, "image.index")
}

func (k KnowledgeConfig) ImageMetadataPath() string {
	return filepath.Join(k.IndexDir, "metadata_image.jsonl")
}

func (k KnowledgeConfig) PointerPath() string {
	return filepath.Join(k.IndexDir, "latest_doc_id.txt")
}

func (k KnowledgeConfig) StatusPath() string {
	return filepath.Join(k.IndexDir, "upload_status.txt")
}

// ImagesPath 未配置时落在索引目录下
func (k KnowledgeConfig) ImagesPath() string {
	if k.ImagesDir != "" {
		return k.ImagesDir
	}
	return filepath.Join(k.IndexDir, "images")
}

// UpdateCallback 配置热更新回调
type UpdateCallback func(oldConfig, newConfig *Config)

// Loader 配置加载器
type Loader struct {
	viper     *viper.Viper
	validator *validator.Validate
	config    *Config
	callbacks []UpdateCallback
	watching  bool
	mu        sync.RWMutex
}

var AppConfig *Config

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("AIHUB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Loader{
		viper:     v,
		validator: validator.New(),
	}
}

// LoadConfig 加载全局配置
func LoadConfig() error {
	cfg, err := NewLoader().Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// GetAppConfig 获取全局配置
func GetAppConfig() *Config {
	return AppConfig
}

// Load 默认值 -> 配置文件 -> 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	l.setDefaults()
	l.loadFromEnv()

	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		l.viper.SetConfigFile(configFile)
		if err := l.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Config 当前配置的副本
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.config == nil {
		return nil
	}
	cp := *l.config
	return &cp
}

// OnUpdate 注册配置更新回调
func (l *Loader) OnUpdate(callback UpdateCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, callback)
}

// Watch 监听配置文件变化，只有设置了CONFIG_FILE才有意义
func (l *Loader) Watch() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watching {
		return fmt.Errorf("config watcher is already running")
	}
	if l.viper.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file to watch")
	}

	l.viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		_ = l.Reload()
	})
	l.viper.WatchConfig()
	l.watching = true
	return nil
}

// Reload 重新加载并通知回调，失败时保留旧配置
func (l *Loader) Reload() error {
	newConfig, err := l.load()
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	l.mu.Lock()
	oldConfig := l.config
	l.config = newConfig
	callbacks := make([]UpdateCallback, len(l.callbacks))
	copy(callbacks, l.callbacks)
	l.mu.Unlock()

	for _, callback := range callbacks {
		callback(oldConfig, newConfig)
	}
	return nil
}

func (l *Loader) setDefaults() {
	v := l.viper

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.path", "/metrics")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "document-ingestions")
	v.SetDefault("kafka.group_id", "")
	v.SetDefault("kafka.enabled", false)

	// AI配置默认值
	v.SetDefault("ai.openai_api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.chat_model", "gpt-4o-mini")
	v.SetDefault("ai.max_tokens", 0)
	v.SetDefault("ai.temperature", 0.2)

	// 文件上传配置默认值
	v.SetDefault("file_upload.max_size", 52428800) // 50MB
	v.SetDefault("file_upload.allowed_types", []string{".pdf", ".png", ".jpg", ".jpeg", ".txt", ".md", ".docx", ".xlsx"})

	// 知识库配置默认值
	v.SetDefault("knowledge.chunk_size", 800)
	v.SetDefault("knowledge.chunk_overlap", 200)
	v.SetDefault("knowledge.top_k_default", 1)
	v.SetDefault("knowledge.top_k_exploratory", 5)
	v.SetDefault("knowledge.preview_limit", 600)
	v.SetDefault("knowledge.text_min_len_for_no_ocr", 30)
	v.SetDefault("knowledge.latest_only_default", true)
	v.SetDefault("knowledge.index_dir", "index_data")
	v.SetDefault("knowledge.images_dir", "")
	v.SetDefault("knowledge.embedding.model", "text-embedding-3-small")
	v.SetDefault("knowledge.embedding.dimensions", 1536)
	v.SetDefault("knowledge.pointer.provider", "file")
	v.SetDefault("knowledge.pointer.key", "multimodal-rag:latest_doc_id")
	v.SetDefault("knowledge.storage.provider", "local")
	v.SetDefault("knowledge.storage.endpoint", "")
	v.SetDefault("knowledge.storage.access_key", "")
	v.SetDefault("knowledge.storage.secret_key", "")
	v.SetDefault("knowledge.storage.bucket", "knowledge-images")
	v.SetDefault("knowledge.storage.use_ssl", false)
	v.SetDefault("knowledge.storage.prefix", "images")
	v.SetDefault("knowledge.pdf.render_dpi", 200)
	v.SetDefault("knowledge.pdf.license_key", "")

	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.command", "tesseract")
	v.SetDefault("ocr.languages", "eng")
}

// loadFromEnv 兼容不带前缀的常用环境变量
func (l *Loader) loadFromEnv() {
	l.setFromEnv("server.port", "PORT")
	l.setFromEnv("server.env", "ENV")
	l.setFromEnv("ai.openai_api_key", "OPENAI_API_KEY")
	l.setFromEnv("ai.base_url", "OPENAI_BASE_URL")
	l.setFromEnv("ai.chat_model", "OPENAI_CHAT_MODEL")
	l.setFromEnv("knowledge.embedding.model", "OPENAI_EMBEDDING_MODEL")
	l.setFromEnv("knowledge.index_dir", "INDEX_DIR")
	l.setFromEnv("knowledge.pdf.license_key", "UNIDOC_LICENSE_API_KEY")
	l.setFromEnv("ocr.command", "TESSERACT_CMD")
	l.setFromEnv("redis.host", "REDIS_HOST")
	l.setFromEnv("redis.port", "REDIS_PORT")
	l.setFromEnv("redis.password", "REDIS_PASSWORD")

	// MinIO配置从环境变量读取
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		l.viper.Set("knowledge.storage.endpoint", endpoint)
		l.viper.Set("knowledge.storage.provider", "minio")
	}
	l.setFromEnv("knowledge.storage.access_key", "MINIO_ACCESS_KEY")
	l.setFromEnv("knowledge.storage.secret_key", "MINIO_SECRET_KEY")
	l.setFromEnv("knowledge.storage.bucket", "MINIO_BUCKET")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		// 支持逗号分隔的broker列表
		list := strings.Split(brokers, ",")
		for i := range list {
			list[i] = strings.TrimSpace(list[i])
		}
		l.viper.Set("kafka.brokers", list)
	}
	l.setFromEnv("kafka.topic", "KAFKA_TOPIC")
	l.setFromEnv("kafka.group_id", "KAFKA_GROUP_ID")
	if os.Getenv("KAFKA_ENABLED") == "true" {
		l.viper.Set("kafka.enabled", true)
	}
	if enabled := os.Getenv("PROMETHEUS_ENABLED"); enabled != "" {
		l.viper.Set("prometheus.enabled", enabled == "true")
	}
}

func (l *Loader) setFromEnv(configKey, envKey string) {
	if value := os.Getenv(envKey); value != "" {
		l.viper.Set(configKey, value)
	}
}
