package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "OPENAI_API_KEY", "INDEX_DIR", "MINIO_ENDPOINT",
		"KAFKA_BROKERS", "KAFKA_ENABLED", "PROMETHEUS_ENABLED",
		"AIHUB_KNOWLEDGE_CHUNK_SIZE", "AIHUB_KNOWLEDGE_POINTER_PROVIDER",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoader_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 800, cfg.Knowledge.ChunkSize)
	assert.Equal(t, 200, cfg.Knowledge.ChunkOverlap)
	assert.Equal(t, 1, cfg.Knowledge.TopKDefault)
	assert.Equal(t, 5, cfg.Knowledge.TopKExploratory)
	assert.Equal(t, 600, cfg.Knowledge.PreviewLimit)
	assert.Equal(t, 30, cfg.Knowledge.TextMinLenForNoOCR)
	assert.True(t, cfg.Knowledge.LatestOnlyDefault)
	assert.Equal(t, "text-embedding-3-small", cfg.Knowledge.Embedding.Model)
	assert.Equal(t, 1536, cfg.Knowledge.Embedding.Dimensions)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.ChatModel)
	assert.InDelta(t, 0.2, cfg.AI.Temperature, 1e-9)
	assert.Equal(t, "file", cfg.Knowledge.Pointer.Provider)
	assert.Equal(t, "local", cfg.Knowledge.Storage.Provider)
	assert.False(t, cfg.Kafka.Enabled)

	assert.Equal(t, filepath.Join("index_data", "images"), cfg.Knowledge.ImagesPath())
	assert.Equal(t, filepath.Join("index_data", "metadata_text.jsonl"), cfg.Knowledge.TextMetadataPath())
	assert.Equal(t, filepath.Join("index_data", "latest_doc_id.txt"), cfg.Knowledge.PointerPath())
}

func TestLoader_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("INDEX_DIR", "/tmp/rag")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("KAFKA_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.AI.OpenAIAPIKey)
	assert.Equal(t, "/tmp/rag", cfg.Knowledge.IndexDir)
	assert.Equal(t, "minio", cfg.Knowledge.Storage.Provider)
	assert.Equal(t, "minio:9000", cfg.Knowledge.Storage.Endpoint)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
}

func TestLoader_ValidationFailure(t *testing.T) {
	clearEnv(t)

	t.Run("chunk size must be positive", func(t *testing.T) {
		t.Setenv("AIHUB_KNOWLEDGE_CHUNK_SIZE", "0")
		_, err := NewLoader().Load()
		assert.Error(t, err)
	})

	t.Run("unknown pointer provider", func(t *testing.T) {
		t.Setenv("AIHUB_KNOWLEDGE_POINTER_PROVIDER", "etcd")
		_, err := NewLoader().Load()
		assert.Error(t, err)
	})
}

func TestLoader_ConfigFileAndReload(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("knowledge:\n  chunk_size: 400\n  chunk_overlap: 50\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	loader := NewLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Knowledge.ChunkSize)
	assert.Equal(t, 50, cfg.Knowledge.ChunkOverlap)

	var oldSize, newSize int
	loader.OnUpdate(func(oldConfig, newConfig *Config) {
		oldSize = oldConfig.Knowledge.ChunkSize
		newSize = newConfig.Knowledge.ChunkSize
	})

	require.NoError(t, os.WriteFile(path, []byte("knowledge:\n  chunk_size: 1000\n"), 0o644))
	require.NoError(t, loader.Reload())

	assert.Equal(t, 400, oldSize)
	assert.Equal(t, 1000, newSize)
	assert.Equal(t, 1000, loader.Config().Knowledge.ChunkSize)
}
