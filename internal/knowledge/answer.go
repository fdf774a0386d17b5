package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	// FallbackAnswer 没有可用上下文时的固定回答
	FallbackAnswer = "I don't know based on the indexed documents. Please upload a document or try a different query."
	// NoIndexMessage 尚未建立任何索引
	NoIndexMessage = "Please upload a document first."
)

var ErrAnswerUnavailable = errors.New("answer generation unavailable")

// UnavailableAnswer 回答生成失败时返回给用户的文本
func UnavailableAnswer(err error) string {
	return fmt.Sprintf("(Answer generation unavailable) Error: %v", err)
}

const answerSystemPrompt = `You are a retrieval assistant that answers questions about documents the user has uploaded.
You receive a question and a list of context snippets. Each snippet is tagged [TEXT] for passages taken from document text or [IMAGE] for captions of charts, figures and photos, followed by its source, page and similarity score.

Rules:
1. Answer only from the provided snippets. Do not use outside knowledge.
2. If the snippets do not contain the answer, say you don't know based on the indexed documents.
3. Cite the source and page of each fact you use, for example (report.pdf p.3).
4. Treat [IMAGE] snippets as descriptions of visual content and say so when you rely on them.
5. When the question asks for a summary or overview, combine the snippets into a short structured answer.
6. Prefer higher scored snippets when snippets disagree, and mention the disagreement.
7. Keep the answer concise and in the language of the question.`

// Answerer 基于检索结果生成回答
type Answerer interface {
	Answer(ctx context.Context, query string, contexts []RetrievalResult) (string, error)
}

// BuildContextBlock 把检索结果拼成提示词中的上下文段落
func BuildContextBlock(contexts []RetrievalResult) string {
	blocks := make([]string, 0, len(contexts))
	for _, c := range contexts {
		tag := "[TEXT]"
		if c.Modality == ModalityImage {
			tag = "[IMAGE]"
		}
		page := "?"
		if c.Page != nil {
			page = fmt.Sprintf("%d", *c.Page)
		}
		blocks = append(blocks, fmt.Sprintf("%s (source: %s p.%s, score=%.3f)\n%s", tag, c.Source, page, c.Score, c.Text))
	}
	return strings.Join(blocks, "\n\n")
}

// BuildUserMessage 问题与上下文
func BuildUserMessage(query string, contexts []RetrievalResult) string {
	return fmt.Sprintf("Question: %s\n\nContext:\n%s", query, BuildContextBlock(contexts))
}

// NoopAnswerer 未配置模型时使用
type NoopAnswerer struct{}

func (NoopAnswerer) Answer(ctx context.Context, query string, contexts []RetrievalResult) (string, error) {
	if len(contexts) == 0 {
		return FallbackAnswer, nil
	}
	return "", fmt.Errorf("%w: chat model not configured", ErrAnswerUnavailable)
}

// OpenAIAnswererConfig 对话模型参数
type OpenAIAnswererConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// OpenAIAnswerer 调用Chat Completions生成回答
type OpenAIAnswerer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIAnswerer 未配置key时返回NoopAnswerer
func NewOpenAIAnswerer(cfg OpenAIAnswererConfig) Answerer {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return NoopAnswerer{}
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIAnswerer{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (a *OpenAIAnswerer) Answer(ctx context.Context, query string, contexts []RetrievalResult) (string, error) {
	if len(contexts) == 0 {
		return FallbackAnswer, nil
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: answerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildUserMessage(query, contexts)},
		},
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrAnswerUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
