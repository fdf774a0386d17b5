package knowledge

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const maxMetadataLine = 4 * 1024 * 1024

// MetadataLog JSONL追加日志，每行一条Record
type MetadataLog struct {
	path string
}

func NewMetadataLog(path string) *MetadataLog {
	return &MetadataLog{path: path}
}

func (l *MetadataLog) Path() string {
	return l.path
}

// Append 按顺序逐行写入并fsync
func (l *MetadataLog) Append(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}

	var buf bytes.Buffer
	for i := range records {
		line, err := json.Marshal(&records[i])
		if err != nil {
			return fmt.Errorf("encode metadata record %s: %w", records[i].ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(buf.Bytes()); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadAll 按文件顺序返回全部记录，文件不存在时返回空
func (l *MetadataLog) LoadAll() ([]Record, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, err
	}
	defer file.Close()

	records := []Record{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMetadataLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", l.path, lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Size 当前文件字节数，不存在时为0
func (l *MetadataLog) Size() (int64, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

// Truncate 截断到指定字节数
func (l *MetadataLog) Truncate(size int64) error {
	if size == 0 {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return os.Truncate(l.path, size)
}

// TruncateRecords 只保留前n条非空记录
func (l *MetadataLog) TruncateRecords(n int) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var offset int64
	kept := 0
	for kept < n && int(offset) < len(data) {
		rest := data[offset:]
		next := bytes.IndexByte(rest, '\n')
		if next < 0 {
			next = len(rest) - 1
		}
		if len(bytes.TrimSpace(rest[:next+1])) > 0 {
			kept++
		}
		offset += int64(next + 1)
	}
	return l.Truncate(offset)
}

func (l *MetadataLog) Remove() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
