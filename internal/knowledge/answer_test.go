package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContexts() []RetrievalResult {
	return []RetrievalResult{
		{Rank: 1, Score: 0.91234, Modality: ModalityText, Source: "report.pdf", Page: intPtr(3), Text: "Revenue grew 12%."},
		{Rank: 2, Score: 0.5, Modality: ModalityImage, Source: "report.pdf", Page: intPtr(4), Text: "Bar chart of revenue"},
		{Rank: 3, Score: 0.25, Modality: ModalityText, Source: "notes.txt", Text: "Unpaged note"},
	}
}

func TestBuildContextBlock(t *testing.T) {
	block := BuildContextBlock(sampleContexts())
	want := "[TEXT] (source: report.pdf p.3, score=0.912)\nRevenue grew 12%.\n\n" +
		"[IMAGE] (source: report.pdf p.4, score=0.500)\nBar chart of revenue\n\n" +
		"[TEXT] (source: notes.txt p.?, score=0.250)\nUnpaged note"
	assert.Equal(t, want, block)

	msg := BuildUserMessage("How did revenue change?", sampleContexts()[:1])
	assert.Equal(t, "Question: How did revenue change?\n\nContext:\n[TEXT] (source: report.pdf p.3, score=0.912)\nRevenue grew 12%.", msg)
}

func TestNoopAnswerer(t *testing.T) {
	answerer := NewOpenAIAnswerer(OpenAIAnswererConfig{})

	answer, err := answerer.Answer(context.Background(), "Summarize the document", nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, answer)

	_, err = answerer.Answer(context.Background(), "q", sampleContexts())
	assert.ErrorIs(t, err, ErrAnswerUnavailable)
}

func TestOpenAIAnswerer_SendsPromptAndContext(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-1",
			Object: "chat.completion",
			Choices: []openai.ChatCompletionChoice{{
				Index:   0,
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "  Revenue grew 12% (report.pdf p.3).  "},
			}},
		})
	}))
	defer srv.Close()

	answerer := NewOpenAIAnswerer(OpenAIAnswererConfig{
		APIKey:      "test-key",
		BaseURL:     srv.URL + "/v1",
		Temperature: 0.2,
	})
	answer, err := answerer.Answer(context.Background(), "How did revenue change?", sampleContexts())
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew 12% (report.pdf p.3).", answer)

	assert.Equal(t, openai.GPT4oMini, got.Model)
	assert.InDelta(t, 0.2, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, BuildUserMessage("How did revenue change?", sampleContexts()), got.Messages[1].Content)
}

func TestOpenAIAnswerer_EmptyContextsSkipsRequest(t *testing.T) {
	answerer := NewOpenAIAnswerer(OpenAIAnswererConfig{APIKey: "test-key", BaseURL: "http://127.0.0.1:1/v1"})
	answer, err := answerer.Answer(context.Background(), "anything", []RetrievalResult{})
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, answer)
}

func TestUnavailableAnswer(t *testing.T) {
	assert.Equal(t, "(Answer generation unavailable) Error: quota exceeded", UnavailableAnswer(errors.New("quota exceeded")))
}
