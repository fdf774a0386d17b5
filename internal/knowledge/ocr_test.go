package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCommandRunner struct {
	mock.Mock
}

func (m *MockCommandRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	called := m.Called(ctx, stdin, name, args)
	if called.Get(0) == nil {
		return nil, called.Error(1)
	}
	return called.Get(0).([]byte), called.Error(1)
}

func TestTesseractOCR_Recognize(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Run", mock.Anything, []byte("png-bytes"), "tesseract", []string{"stdin", "stdout", "-l", "eng+chi_sim"}).
		Return([]byte("  Quarterly revenue\n\n"), nil)

	ocr := newTesseractOCR("tesseract", "eng+chi_sim", runner)
	text, err := ocr.Recognize(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "Quarterly revenue", text)
	runner.AssertExpectations(t)
}

func TestTesseractOCR_EmptyInputAndErrors(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Run", mock.Anything, mock.Anything, "tesseract", mock.Anything).Return(nil, assert.AnError)

	ocr := newTesseractOCR("tesseract", "", runner)
	text, err := ocr.Recognize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, text)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err = ocr.Recognize(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNewTesseractOCR_MissingBinary(t *testing.T) {
	_, err := NewTesseractOCR("definitely-not-a-tesseract-binary", "eng")
	assert.Error(t, err)
}
