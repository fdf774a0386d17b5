package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// OCR 图片文字识别，输入为PNG/JPEG字节
type OCR interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// NoopOCR 未启用OCR时使用，总是返回空文本
type NoopOCR struct{}

func (NoopOCR) Recognize(ctx context.Context, image []byte) (string, error) {
	return "", nil
}

// CommandRunner 执行外部命令，stdin为输入，返回stdout
type CommandRunner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// TesseractOCR 调用 tesseract 命令行
type TesseractOCR struct {
	command   string
	languages string
	runner    CommandRunner
}

// NewTesseractOCR 命令不在PATH中时返回错误，由调用方决定是否降级为NoopOCR
func NewTesseractOCR(command, languages string) (*TesseractOCR, error) {
	if command == "" {
		command = "tesseract"
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("tesseract not available: %w", err)
	}
	return newTesseractOCR(command, languages, execRunner{}), nil
}

func newTesseractOCR(command, languages string, runner CommandRunner) *TesseractOCR {
	if languages == "" {
		languages = "eng"
	}
	return &TesseractOCR{command: command, languages: languages, runner: runner}
}

func (t *TesseractOCR) Recognize(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", nil
	}
	out, err := t.runner.Run(ctx, image, t.command, "stdin", "stdout", "-l", t.languages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
