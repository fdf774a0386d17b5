package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testDim = 64

// hashEmbedder 词袋哈希向量，相同词得分更高，结果稳定
type hashEmbedder struct {
	calls int
}

func (h *hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	h.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, testDim)
		for _, w := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			f := fnv.New32a()
			f.Write([]byte(w))
			v[f.Sum32()%testDim] += 1
		}
		out[i] = v
	}
	Normalize(out)
	return out, nil
}

func (h *hashEmbedder) Dimensions() int { return testDim }
func (h *hashEmbedder) Ready() bool     { return true }

// MockEmbedder 断言调用次数
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) Dimensions() int { return testDim }
func (m *MockEmbedder) Ready() bool     { return true }

type fakePDF struct {
	name   string
	pages  []string
	images map[int][]PageImage
}

func (f *fakePDF) Name() string   { return f.name }
func (f *fakePDF) PageCount() int { return len(f.pages) }

func (f *fakePDF) PageText(ctx context.Context, page int) (string, error) {
	if page < 1 || page > len(f.pages) {
		return "", fmt.Errorf("page %d out of range", page)
	}
	return f.pages[page-1], nil
}

func (f *fakePDF) PageImages(ctx context.Context, page int) ([]PageImage, error) {
	return f.images[page], nil
}

// captionOCR 按图片字节返回预设文字
type captionOCR map[string]string

func (c captionOCR) Recognize(ctx context.Context, data []byte) (string, error) {
	return c[string(data)], nil
}

type testEnv struct {
	dir      string
	embedder Embedder
	text     *ModalityStore
	image    *ModalityStore
	images   *LocalImageStore
	pipeline *Pipeline
	router   *QueryRouter
}

func newTestEnv(t *testing.T, embedder Embedder, ocr OCR) *testEnv {
	t.Helper()
	dir := t.TempDir()

	images, err := NewLocalImageStore(filepath.Join(dir, "images"))
	require.NoError(t, err)

	env := &testEnv{
		dir:      dir,
		embedder: embedder,
		text:     NewModalityStore(ModalityText, filepath.Join(dir, "text.index"), filepath.Join(dir, "metadata_text.jsonl"), testDim),
		image:    NewModalityStore(ModalityImage, filepath.Join(dir, "image.index"), filepath.Join(dir, "metadata_image.jsonl"), testDim),
		images:   images,
	}
	env.pipeline = NewPipeline(PipelineDeps{
		Chunker:    NewChunker(DefaultChunkSize, DefaultChunkOverlap),
		Embedder:   embedder,
		TextStore:  env.text,
		ImageStore: env.image,
		Images:     images,
		OCR:        ocr,
	})
	env.router = NewQueryRouter(embedder, env.text, env.image, RouterConfig{TopKDefault: 1, TopKExploratory: 5, PreviewLimit: 600})
	return env
}

func pngBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func unitVector(hot int) []float32 {
	v := make([]float32, testDim)
	v[hot%testDim] = 1
	return v
}
