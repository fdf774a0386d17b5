package services

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/aihub/multimodal-rag/internal/errors"
	"github.com/aihub/multimodal-rag/internal/knowledge"
)

// translate 将knowledge包的哨兵错误转换为AppError，其余交给ErrorTranslator
func (s *KnowledgeService) translate(filename string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}

	switch {
	case errors.Is(err, knowledge.ErrNoContent):
		return apperrors.NewNoContentError(filename, noContentReason(err)).WithCause(err)
	case errors.Is(err, knowledge.ErrUnsupportedFileType):
		return apperrors.NewUnsupportedFileTypeError(filename, strings.ToLower(fileExt(filename))).WithCause(err)
	case errors.Is(err, knowledge.ErrUnreadableFile),
		errors.Is(err, knowledge.ErrInvalidPDF),
		errors.Is(err, knowledge.ErrInvalidImage):
		return apperrors.NewBusinessError(apperrors.ErrCodeInvalidFileFormat, "The file could not be read.").
			WithDetails(map[string]string{"file": filename}).
			WithCause(err)
	case errors.Is(err, knowledge.ErrEmbedderNotConfigured):
		return apperrors.NewExternalError(apperrors.ErrCodeEmbeddingFailed, "Embedding provider is not configured.").WithCause(err)
	case errors.Is(err, knowledge.ErrEmbeddingFailed), errors.Is(err, knowledge.ErrEmbeddingCountMismatch):
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.NewSystemError(apperrors.ErrCodeTimeout, "Embedding request timed out.").WithCause(err)
		}
		return apperrors.NewExternalError(apperrors.ErrCodeEmbeddingFailed, "Embedding request failed.").WithCause(err)
	case errors.Is(err, knowledge.ErrIndexMisaligned), errors.Is(err, knowledge.ErrCorruptIndex):
		return apperrors.NewInconsistencyError(apperrors.ErrCodeIndexInconsistent, "Index and metadata are out of sync; reset the index.").WithCause(err)
	case errors.Is(err, knowledge.ErrDimensionMismatch):
		return apperrors.NewInconsistencyError(apperrors.ErrCodeDimensionMismatch, "Embedding dimension does not match the existing index.").WithCause(err)
	}
	return s.translator.Translate(err)
}

func noContentReason(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	if msg == "" {
		return "No indexable content found."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

func fileExt(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[i:]
	}
	return ""
}
