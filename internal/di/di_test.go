package di

import (
	"context"
	"errors"
	"testing"

	"github.com/aihub/multimodal-rag/internal/config"
	"github.com/aihub/multimodal-rag/internal/database"
	"github.com/aihub/multimodal-rag/internal/knowledge"
	"github.com/aihub/multimodal-rag/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("KAFKA_ENABLED", "")
	t.Setenv("MINIO_ENDPOINT", "")
	t.Setenv("INDEX_DIR", t.TempDir())

	cfg, err := config.NewLoader().Load()
	require.NoError(t, err)
	cfg.OCR.Enabled = false
	return cfg
}

func TestInitContainer_ResolvesKnowledgeService(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitContainer(cfg)
	require.NoError(t, err)
	assert.Same(t, container, GetContainer())

	err = Invoke(func(svc *services.KnowledgeService, stores *Stores, events services.EventPublisher, closers *Closers) {
		require.NotNil(t, svc)
		assert.Nil(t, events)
		assert.False(t, stores.Text.Exists())
		assert.Equal(t, knowledge.ModalityImage, stores.Image.Modality())

		res, err := svc.Ask(context.Background(), "What is in the document?", false)
		require.NoError(t, err)
		assert.Equal(t, knowledge.NoIndexMessage, res.Answer)
		assert.NoError(t, closers.Close())
	})
	require.NoError(t, err)
}

func TestInitContainer_SharesSingletons(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitContainer(cfg)
	require.NoError(t, err)

	var first, second *Stores
	require.NoError(t, container.Invoke(func(s *Stores) { first = s }))
	require.NoError(t, container.Invoke(func(s *Stores) { second = s }))
	assert.Same(t, first, second)

	require.NoError(t, container.Invoke(func(ocr knowledge.OCR) {
		assert.IsType(t, knowledge.NoopOCR{}, ocr)
	}))
}

func TestClosers_ReverseOrderAndErrors(t *testing.T) {
	var order []string
	c := &Closers{}
	c.Add("first", func() error { order = append(order, "first"); return nil })
	c.Add("second", func() error { order = append(order, "second"); return errors.New("boom") })

	err := c.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second: boom")
	assert.Equal(t, []string{"second", "first"}, order)

	assert.NoError(t, c.Close())
}

func TestInitContainer_FilePointerRegistersNoHealthChecks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Knowledge.Pointer.Provider = "file"

	container, err := InitContainer(cfg)
	require.NoError(t, err)

	err = container.Invoke(func(pointer knowledge.DocumentPointer, health *database.HealthRegistry) {
		_, ok := pointer.(*knowledge.FilePointer)
		assert.True(t, ok)
		assert.Empty(t, health.Names())
		assert.True(t, health.Healthy())
	})
	require.NoError(t, err)
}
