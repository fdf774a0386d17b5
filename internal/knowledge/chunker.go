package knowledge

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 200
)

// Chunk 分块结果，CharStart/CharEnd 为该页（或该文档）原始文本中的字符偏移（按rune计）
type Chunk struct {
	Text      string
	CharStart int
	CharEnd   int
}

// Chunker 定长滑动窗口分块器
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker 创建分块器。overlap >= chunkSize 时收敛为 chunkSize/4，保证窗口总能前进
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
	}
}

func (c *Chunker) Size() int    { return c.chunkSize }
func (c *Chunker) Overlap() int { return c.chunkOverlap }

// Split 按阅读顺序切分文本，不做任何空白归一化
func (c *Chunker) Split(text string) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	var chunks []Chunk

	start := 0
	for start < n {
		end := start + c.chunkSize
		if end > n {
			end = n
		}
		chunks = append(chunks, Chunk{
			Text:      string(runes[start:end]),
			CharStart: start,
			CharEnd:   end,
		})
		if end == n {
			break
		}
		start = end - c.chunkOverlap
		if start < 0 {
			start = 0
		}
	}

	return chunks
}
