package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/aihub/multimodal-rag/internal/errors"
	"github.com/aihub/multimodal-rag/internal/knowledge"
	"github.com/aihub/multimodal-rag/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKnowledge struct {
	mock.Mock
}

func (m *MockKnowledge) Upload(ctx context.Context, filename string, data []byte) (*services.UploadResult, error) {
	args := m.Called(ctx, filename, data)
	res, _ := args.Get(0).(*services.UploadResult)
	return res, args.Error(1)
}

func (m *MockKnowledge) Ask(ctx context.Context, query string, allDocs bool) (*services.AskResult, error) {
	args := m.Called(ctx, query, allDocs)
	res, _ := args.Get(0).(*services.AskResult)
	return res, args.Error(1)
}

func (m *MockKnowledge) Search(ctx context.Context, query string, allDocs bool) (*services.AskResult, error) {
	args := m.Called(ctx, query, allDocs)
	res, _ := args.Get(0).(*services.AskResult)
	return res, args.Error(1)
}

func (m *MockKnowledge) Reset(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockKnowledge) Status(ctx context.Context) (*services.StatusResult, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*services.StatusResult)
	return res, args.Error(1)
}

func TestRun_Usage(t *testing.T) {
	svc := new(MockKnowledge)
	var out bytes.Buffer

	assert.ErrorIs(t, run(context.Background(), svc, nil, &out), errUsage)
	assert.ErrorIs(t, run(context.Background(), svc, []string{"bogus"}, &out), errUsage)
	assert.ErrorIs(t, run(context.Background(), svc, []string{"ingest"}, &out), errUsage)
	assert.ErrorIs(t, run(context.Background(), svc, []string{"query", "-all"}, &out), errUsage)
	svc.AssertExpectations(t)
}

func TestRun_Ingest(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "report.txt")
	bad := filepath.Join(dir, "deck.pptx")
	require.NoError(t, os.WriteFile(good, []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0o644))

	svc := new(MockKnowledge)
	report := knowledge.NewIngestionReport("doc-1", "report.txt")
	svc.On("Upload", mock.Anything, "report.txt", []byte("hello")).
		Return(&services.UploadResult{Message: "Text file 'report.txt' indexed successfully!", Report: report}, nil)
	svc.On("Upload", mock.Anything, "deck.pptx", []byte("x")).
		Return(nil, apperrors.NewUnsupportedFileTypeError("deck.pptx", ".pptx"))

	var out bytes.Buffer
	err := run(context.Background(), svc, []string{"ingest", good, bad, filepath.Join(dir, "missing.pdf")}, &out)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 files failed")
	assert.Contains(t, out.String(), "Text file 'report.txt' indexed successfully!")
	assert.Contains(t, out.String(), "Unsupported file type: .pptx")
	svc.AssertExpectations(t)
}

func TestRun_Query(t *testing.T) {
	page := 2
	svc := new(MockKnowledge)
	svc.On("Ask", mock.Anything, "show the revenue chart", true).Return(&services.AskResult{
		Answer: "Revenue grew.",
		Mode:   knowledge.ModeImage,
		Scope:  "all",
		Results: []knowledge.RetrievalResult{
			{Rank: 1, Score: 0.91, Modality: knowledge.ModalityImage, Source: "q3.pdf", Page: &page, Text: "Revenue\nchart"},
		},
	}, nil)

	var out bytes.Buffer
	err := run(context.Background(), svc, []string{"query", "-all", "show", "the", "revenue", "chart"}, &out)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "mode: image  scope: all")
	assert.Contains(t, out.String(), "#1 [IMAGE] q3.pdf p.2 score=0.910")
	assert.Contains(t, out.String(), "Revenue chart")
	assert.Contains(t, out.String(), "Revenue grew.")
	svc.AssertExpectations(t)
}

func TestRun_QueryNoAnswer(t *testing.T) {
	svc := new(MockKnowledge)
	svc.On("Search", mock.Anything, "refund policy", false).
		Return(&services.AskResult{Mode: knowledge.ModeText, Scope: "latest"}, nil)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), svc, []string{"query", "-no-answer", "refund policy"}, &out))
	assert.Contains(t, out.String(), "scope: latest")
	svc.AssertExpectations(t)
}

func TestRun_ResetAndStatus(t *testing.T) {
	svc := new(MockKnowledge)
	svc.On("Reset", mock.Anything).Return(nil)
	svc.On("Status", mock.Anything).Return(&services.StatusResult{HasTextIndex: true, TextRecords: 3}, nil)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), svc, []string{"reset"}, &out))
	require.NoError(t, run(context.Background(), svc, []string{"status"}, &out))

	assert.Contains(t, out.String(), "Index reset.")
	assert.Contains(t, out.String(), `"text_records": 3`)
	svc.AssertExpectations(t)
}
